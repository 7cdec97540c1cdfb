// Package keyregistry owns CRUD and usage accounting for operator-managed
// upstream API keys (model.ApiKey). The Rotator queries the same table with
// its own ordering and does its own selection; keyregistry never picks a
// key on its own.
package keyregistry

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gemkeyproxy/internal/model"
	"gemkeyproxy/internal/store"
)

// Registry is the KeyRegistry component.
type Registry struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Create inserts a new active key with a fresh UUID and zeroed usage.
func (r *Registry) Create(name, keyValue string) (*model.ApiKey, error) {
	now := model.NewJSONTime(time.Now().UTC())
	key := &model.ApiKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyValue:  keyValue,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.Create(key).Error; err != nil {
		return nil, fmt.Errorf("failed to create api key: %w", err)
	}
	return key, nil
}

// List returns every key ordered newest-first, for the admin UI's key table.
func (r *Registry) List() ([]model.ApiKey, error) {
	var keys []model.ApiKey
	if err := r.db.Order("created_at desc").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// Get looks up a single key by ID.
func (r *Registry) Get(id string) (*model.ApiKey, error) {
	var key model.ApiKey
	if err := r.db.First(&key, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get api key %s: %w", id, err)
	}
	return &key, nil
}

// Update persists name/key_value/is_active changes for an existing key.
func (r *Registry) Update(key *model.ApiKey) error {
	key.UpdatedAt = model.NewJSONTime(time.Now().UTC())
	result := r.db.Model(&model.ApiKey{}).Where("id = ?", key.ID).Updates(map[string]interface{}{
		"name":       key.Name,
		"key_value":  key.KeyValue,
		"is_active":  key.IsActive,
		"updated_at": key.UpdatedAt,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update api key %s: %w", key.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Deactivate sets is_active=false for the given key. It is the only
// mutation the Rotator performs directly, and it is idempotent: demoting an
// already-inactive key is a no-op success.
func (r *Registry) Deactivate(id string) error {
	result := r.db.Model(&model.ApiKey{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_active":  false,
		"updated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate api key %s: %w", id, result.Error)
	}
	return nil
}

// Delete removes a key permanently. Existing RequestLog rows referencing it
// are left untouched (the audit trail outlives the keys it references).
func (r *Registry) Delete(id string) error {
	result := r.db.Where("id = ?", id).Delete(&model.ApiKey{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete api key %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IncrementUsage atomically bumps usage_count and stamps last_used. Called
// once per completed upstream round trip, regardless of outcome.
func (r *Registry) IncrementUsage(id string) error {
	now := time.Now().UTC()
	result := r.db.Model(&model.ApiKey{}).Where("id = ?", id).Updates(map[string]interface{}{
		"usage_count": gorm.Expr("usage_count + 1"),
		"last_used":   now,
		"updated_at":  now,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to increment usage for api key %s: %w", id, result.Error)
	}
	return nil
}
