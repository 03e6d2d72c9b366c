// jsonb.go defines small helper types that marshal Go values into JSONB
// columns through database/sql. sqlx struct scanning requires the field types
// themselves to implement driver.Valuer and sql.Scanner.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONStringSlice stores a []string as a JSONB array
type JSONStringSlice []string

// Value implements driver.Valuer
func (s JSONStringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *JSONStringSlice) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	data, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONStringSlice", src)
	}
	return json.Unmarshal(data, s)
}

// CSPExceptions maps a Content-Security-Policy directive name to the list of
// origins a published tool is allowed to load under that directive.
type CSPExceptions map[string][]string

// Value implements driver.Valuer
func (c CSPExceptions) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner
func (c *CSPExceptions) Scan(src interface{}) error {
	if src == nil {
		*c = nil
		return nil
	}
	data, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into CSPExceptions", src)
	}
	return json.Unmarshal(data, c)
}
