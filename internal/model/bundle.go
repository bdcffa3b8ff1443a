package model

import "time"

// InboxBundle is the reserved bundle every account has. It needs no
// remote label.
const InboxBundle = "inbox"

// EmailBundle is a user-visible mailbox partition backed 1:1 by a remote
// label. LabelID is empty until the label exists remotely.
type EmailBundle struct {
	ID         string     `json:"id" db:"id"`
	AccountID  string     `json:"account_id" db:"account_id"`
	Name       string     `json:"name" db:"name"`
	LabelID    string     `json:"label_id" db:"label_id"`
	Icon       string     `json:"icon" db:"icon"`
	SortOrder  int        `json:"sort_order" db:"sort_order"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// IsInbox reports whether b is the reserved inbox bundle.
func (b EmailBundle) IsInbox() bool {
	return b.Name == InboxBundle
}

// BundleSummary adds thread counts to a bundle for list views.
type BundleSummary struct {
	EmailBundle
	ThreadCount int `json:"thread_count" db:"thread_count"`
	UnseenCount int `json:"unseen_count" db:"unseen_count"`
}
