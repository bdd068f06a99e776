// Package models provides data model definitions for the local ledger store.
package models

// DeviceInfo identifies the installation a record originated from.
type DeviceInfo struct {
	DeviceID       string `db:"device_id" json:"device_id"`
	DeviceName     string `db:"device_name" json:"device_name"`
	DeviceType     string `db:"device_type" json:"device_type"`
	InstallationID string `db:"installation_id" json:"installation_id"`
}

// TableName returns the table name for DeviceInfo.
func (DeviceInfo) TableName() string {
	return "device_info"
}
