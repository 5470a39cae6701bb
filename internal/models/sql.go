package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Value implements driver.Valuer so StringList round-trips through sqlx as
// a JSON-encoded TEXT column.
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for StringList.
func (s *StringList) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported scan type for StringList: %T", src)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshal string list: %w", err)
	}
	*s = out
	return nil
}

// ViolationList is the append-only violation log of a memory, persisted
// as a JSON-encoded TEXT column.
type ViolationList []Violation

// Value implements driver.Valuer for ViolationList.
func (v ViolationList) Value() (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]Violation(v))
	if err != nil {
		return nil, fmt.Errorf("marshal violations: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for ViolationList.
func (v *ViolationList) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	var raw []byte
	switch t := src.(type) {
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		return fmt.Errorf("unsupported scan type for ViolationList: %T", src)
	}
	if len(raw) == 0 {
		*v = nil
		return nil
	}
	var out []Violation
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshal violations: %w", err)
	}
	*v = out
	return nil
}
