package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// MetadataRecord is the JSON document stored under meta:<id>.
type MetadataRecord struct {
	UUID    string `json:"uuid"`
	PageURL string `json:"page_url"`
	Title   string `json:"title"`
	Text    string `json:"text"`
}

// Value implements the driver.Valuer interface for jsonb columns
func (m MetadataRecord) Value() (driver.Value, error) {
	return m.Marshal()
}

// Scan implements the sql.Scanner interface for jsonb columns
func (m *MetadataRecord) Scan(value interface{}) error {
	return m.Unmarshal(value)
}

func (m MetadataRecord) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal accepts JSON as []byte or string.
func (m *MetadataRecord) Unmarshal(value interface{}) error {
	switch v := value.(type) {
	case nil:
		return errors.New("metadata record is null")
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata record type %T", value)
	}
}
