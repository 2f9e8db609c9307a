package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a list of strings stored denormalized in a JSON column.
type StringList []string

// Scan implements sql.Scanner for reading from the database
func (l *StringList) Scan(value any) error {
	return scanJSON(value, l)
}

// Value implements driver.Valuer for writing to the database
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalJSON(l)
}

// Contains reports whether the list holds the given item.
func (l StringList) Contains(item string) bool {
	for _, existing := range l {
		if existing == item {
			return true
		}
	}
	return false
}

// ExtraMap is a free-form JSON object column.
type ExtraMap map[string]any

// Scan implements sql.Scanner for reading from the database
func (m *ExtraMap) Scan(value any) error {
	if value == nil {
		*m = make(ExtraMap)
		return nil
	}
	return scanJSON(value, m)
}

// Value implements driver.Valuer for writing to the database
func (m ExtraMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return marshalJSON(m)
}

// PolicySubjectList is a list of policy subjects stored in a JSON column.
type PolicySubjectList []PolicySubject

// Scan implements sql.Scanner for reading from the database
func (l *PolicySubjectList) Scan(value any) error {
	return scanJSON(value, l)
}

// Value implements driver.Valuer for writing to the database
func (l PolicySubjectList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalJSON(l)
}

func scanJSON(value, dest any) error {
	if value == nil {
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan json column: expected []byte or string, got %T", value)
	}

	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

func marshalJSON(value any) (driver.Value, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
