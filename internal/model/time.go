package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

const jsonTimeLayout = "2006-01-02T15:04:05.000Z"

// JSONTime wraps time.Time so persisted timestamps serialize to JSON as
// RFC-3339 with millisecond precision and a Z suffix, matching the
// original's to_rfc3339_opts(SecondsFormat::Millis, true) rather than Go's
// default nanosecond-precision encoding.
type JSONTime struct {
	time.Time
}

// NewJSONTime wraps t, normalizing it to UTC.
func NewJSONTime(t time.Time) JSONTime {
	return JSONTime{Time: t.UTC()}
}

func (t JSONTime) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Time.UTC().Format(jsonTimeLayout) + `"`), nil
}

func (t *JSONTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(jsonTimeLayout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
	}
	t.Time = parsed.UTC()
	return nil
}

// Scan implements sql.Scanner so GORM can populate this type directly from
// whatever representation the driver returns for a timestamp column.
func (t *JSONTime) Scan(value interface{}) error {
	if value == nil {
		t.Time = time.Time{}
		return nil
	}
	v, ok := value.(time.Time)
	if !ok {
		return fmt.Errorf("unsupported Scan source for JSONTime: %T", value)
	}
	t.Time = v.UTC()
	return nil
}

// Value implements driver.Valuer so GORM can write this type back out
// through the standard database/sql path.
func (t JSONTime) Value() (driver.Value, error) {
	if t.Time.IsZero() {
		return nil, nil
	}
	return t.Time, nil
}

// GormDataType tells GORM's schema inference to treat JSONTime as a
// timestamp column, the same as a plain time.Time field.
func (JSONTime) GormDataType() string {
	return "time"
}
