package models

import "time"

// PendingApproval is a first-time connection waiting for an operator decision.
type PendingApproval struct {
	ID         string    `json:"id"`
	DeviceName string    `json:"device_name"`
	SourceAddr string    `json:"source_addr"`
	CreatedAt  time.Time `json:"created_at"`
}
