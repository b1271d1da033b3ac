package model

import "time"

// User is the durable mirror of a token-ledger holder. Authentication itself
// is a contract of an external caller; this row only exists so TokenLedgerEntry
// rows have something to join against and so a user's running balance survives
// a Redis flush.
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TokenBalance int `gorm:"default:0" json:"token_balance"`
}

func (User) TableName() string {
	return "users"
}
