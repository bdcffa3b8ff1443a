package model

import (
	"sort"
	"strings"
	"time"
)

// EmailThread groups the emails of one account that share a provider
// thread id. It sits in at most one bundle at a time.
type EmailThread struct {
	ID            string    `json:"id" db:"id"`
	AccountID     string    `json:"account_id" db:"account_id"`
	Subject       string    `json:"subject" db:"subject"`
	LastMessageAt time.Time `json:"last_message_at" db:"last_message_at"`
	Trashed       bool      `json:"trashed" db:"trashed"`
	BundleID      *string   `json:"bundle_id,omitempty" db:"bundle_id"`
}

// InBundle reports whether the thread is currently classified into bundleID.
func (t EmailThread) InBundle(bundleID string) bool {
	return t.BundleID != nil && *t.BundleID == bundleID
}

// ThreadSummary is an EmailThread with the state derived from its members.
type ThreadSummary struct {
	EmailThread
	Seen         bool     `json:"seen"`
	Flagged      bool     `json:"flagged"`
	FromLine     []string `json:"from_line"`
	MessageCount int      `json:"message_count"`
}

// Summarize derives seen (AND), flagged (OR) and the from line for a thread.
// The from line lists distinct senders in receive order, excluding
// ownAddress.
func Summarize(t EmailThread, ownAddress string, emails []Email) ThreadSummary {
	sorted := make([]Email, len(emails))
	copy(sorted, emails)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReceivedAt.Before(sorted[j].ReceivedAt)
	})

	s := ThreadSummary{
		EmailThread:  t,
		Seen:         len(sorted) > 0,
		MessageCount: len(sorted),
	}

	seenFrom := make(map[string]bool)
	for _, e := range sorted {
		s.Seen = s.Seen && e.Seen()
		s.Flagged = s.Flagged || e.Flagged()

		addr := strings.ToLower(strings.TrimSpace(e.FromAddress))
		if addr == "" || strings.EqualFold(addr, ownAddress) || seenFrom[addr] {
			continue
		}
		seenFrom[addr] = true
		name := e.FromName
		if name == "" {
			name = e.FromAddress
		}
		s.FromLine = append(s.FromLine, name)
	}

	return s
}
