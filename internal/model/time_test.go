package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJSONTime_MarshalJSON(t *testing.T) {
	tm := NewJSONTime(time.Date(2026, 7, 31, 12, 30, 0, 123456789, time.UTC))

	data, err := json.Marshal(tm)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `"2026-07-31T12:30:00.123Z"`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}

func TestJSONTime_MarshalJSON_Zero(t *testing.T) {
	var tm JSONTime
	data, err := json.Marshal(tm)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("expected null for zero value, got %s", data)
	}
}

func TestJSONTime_UnmarshalJSON_RoundTrip(t *testing.T) {
	var tm JSONTime
	if err := json.Unmarshal([]byte(`"2026-07-31T12:30:00.123Z"`), &tm); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if tm.Time.Year() != 2026 || tm.Time.Month() != time.July || tm.Time.Day() != 31 {
		t.Errorf("unexpected parsed date: %v", tm.Time)
	}
	if tm.Time.Nanosecond() != 123000000 {
		t.Errorf("expected millisecond precision preserved, got nanosecond=%d", tm.Time.Nanosecond())
	}
}

func TestJSONTime_UnmarshalJSON_Null(t *testing.T) {
	tm := NewJSONTime(time.Now())
	if err := json.Unmarshal([]byte("null"), &tm); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !tm.Time.IsZero() {
		t.Errorf("expected zero time after unmarshaling null, got %v", tm.Time)
	}
}

func TestJSONTime_ScanAndValue(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)

	var tm JSONTime
	if err := tm.Scan(now); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !tm.Time.Equal(now) {
		t.Errorf("expected %v, got %v", now, tm.Time)
	}

	v, err := tm.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	got, ok := v.(time.Time)
	if !ok || !got.Equal(now) {
		t.Errorf("expected Value to round-trip %v, got %v", now, v)
	}
}
