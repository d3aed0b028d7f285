package domain

import "time"

// AuditLog is one append-only record of an administrative action.
// Seq is assigned by the database and orders entries for keyset pagination.
type AuditLog struct {
	Seq        int64
	ID         string
	OrgID      string
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	IP         string
	// Metadata is a JSON object, or empty.
	Metadata  string
	CreatedAt time.Time
}
