package model

import "time"

// ProviderType identifies the remote mailbox flavor behind an account.
type ProviderType string

// ProviderLabels is a label/filter based provider (IMAP plus a REST label API).
const ProviderLabels ProviderType = "labels"

// Account is a remote mailbox identity. Address is unique within the store.
// Access and refresh credentials live in the credential store; only their
// expiry is persisted here.
type Account struct {
	ID           string       `json:"id" db:"id"`
	Provider     ProviderType `json:"provider" db:"provider"`
	Address      string       `json:"address" db:"address"`
	TokenExpiry  *time.Time   `json:"token_expiry,omitempty" db:"token_expiry"`
	LastSyncedAt *time.Time   `json:"last_synced_at,omitempty" db:"last_synced_at"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}
