// Package models provides data model definitions for the local ledger store.
package models

import "time"

// MigrationInfo describes one applied or pending schema migration.
// Once recorded as executed, an entry is immutable; a checksum mismatch
// against the on-disk script signals drift.
type MigrationInfo struct {
	Version     string     `db:"version" json:"version"`
	Description string     `db:"description" json:"description"`
	Script      string     `db:"-" json:"script,omitempty"`
	Checksum    string     `db:"checksum" json:"checksum"`
	ExecutedAt  *time.Time `db:"executed_at" json:"executed_at,omitempty"`
}

// TableName returns the ledger table name for MigrationInfo.
func (MigrationInfo) TableName() string {
	return "schema_migrations"
}

// Executed reports whether the migration has been applied.
func (m *MigrationInfo) Executed() bool {
	return m.ExecutedAt != nil
}
