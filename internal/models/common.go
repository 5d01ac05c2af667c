package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Pagination describes list metadata returned alongside collections.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// StringList is a JSON-encoded string slice column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l, "string list")
}

// Contains reports membership.
func (l StringList) Contains(v string) bool {
	for _, item := range l {
		if item == v {
			return true
		}
	}
	return false
}

// IntMap is a JSON-encoded string→int column (round-robin weights).
type IntMap map[string]int

// Value implements driver.Valuer.
func (m IntMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal int map: %w", err)
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (m *IntMap) Scan(src interface{}) error {
	return scanJSON(src, m, "int map")
}

func jsonValue(src interface{}, what string) (driver.Value, error) {
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", what, err)
	}
	return string(raw), nil
}

func scanJSON(src, dest interface{}, what string) error {
	if src == nil {
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan %s: unsupported type %T", what, src)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("scan %s: %w", what, err)
	}
	return nil
}
