package model

import "time"

// Methodology maps a verification standard to the module that executes it.
// A new version is registered under a new ID rather than mutating an
// existing record that claims may still reference.
type Methodology struct {
	ID            string    `json:"id" yaml:"id"`
	ModuleAddress string    `json:"module_address" yaml:"module_address"`
	SchemaURI     string    `json:"schema_uri" yaml:"schema_uri"`
	SchemaHash    string    `json:"schema_hash" yaml:"schema_hash"`
	Version       int       `json:"version" yaml:"version"`
	IsApproved    bool      `json:"is_approved" yaml:"is_approved"`
	IsDeprecated  bool      `json:"is_deprecated" yaml:"is_deprecated"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"-"`
}

// Valid reports whether new claims may be started under m.
func (m Methodology) Valid() bool {
	return m.IsApproved && !m.IsDeprecated
}
