package model

import "time"

// JobAuditLog is an append-only Postgres row written on every Job status
// transition. Redis holds the live, mutable Job; this table exists so a
// Redis flush doesn't erase the history of what ran.
type JobAuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	JobID     string    `gorm:"index;type:varchar(64)" json:"job_id"`
	UserID    string    `gorm:"index;type:varchar(64)" json:"user_id"`
	Mode      string    `gorm:"type:varchar(32)" json:"mode"`
	Status    string    `gorm:"type:varchar(32)" json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (JobAuditLog) TableName() string {
	return "job_audit_logs"
}

// CredentialAuditLog is an append-only Postgres row written every time a
// credential enters or leaves cooldown. Credential health itself lives only
// in the pool's memory; this table is the forensic trail for "why did throughput
// drop at 14:03".
type CredentialAuditLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CredentialID string    `gorm:"index;type:varchar(64)" json:"credential_id"`
	Event        string    `gorm:"type:varchar(32)" json:"event"` // "cooldown_entered", "cooldown_cleared"
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

func (CredentialAuditLog) TableName() string {
	return "credential_audit_logs"
}

// TokenLedgerEntry is an append-only record of every debit/credit against a
// user's token balance, so User.TokenBalance is always reconstructible from
// history instead of being the sole source of truth.
type TokenLedgerEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"index;type:varchar(64)" json:"user_id"`
	JobID     string    `gorm:"index;type:varchar(64)" json:"job_id"`
	Delta     int       `json:"delta"` // negative for spend, positive for grants
	Reason    string    `json:"reason"`
	Balance   int       `json:"balance"` // balance after applying Delta
	CreatedAt time.Time `json:"created_at"`
}

func (TokenLedgerEntry) TableName() string {
	return "token_ledger_entries"
}
