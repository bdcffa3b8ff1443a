package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// System flags carried by IMAP messages.
const (
	FlagSeen    = `\Seen`
	FlagFlagged = `\Flagged`
)

// StringList is a string slice persisted as a JSON array.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scanning string list from %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

// Contains reports whether s is in the list.
func (l StringList) Contains(s string) bool {
	return slices.Contains(l, s)
}

// ContainsFold reports whether s is in the list, ignoring case.
func (l StringList) ContainsFold(s string) bool {
	for _, v := range l {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Email is one fetched message. (AccountID, Mailbox, UID) is its natural
// key. Only Flags, Labels and Body change after it is first persisted.
type Email struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	Mailbox   string `json:"mailbox" db:"mailbox"`
	UID       uint32 `json:"uid" db:"uid"`
	ModSeq    uint64 `json:"mod_seq" db:"mod_seq"`
	Size      int64  `json:"size" db:"size"`

	Flags  StringList `json:"flags" db:"flags"`
	Labels StringList `json:"labels" db:"labels"`

	ThreadID  string `json:"thread_id" db:"thread_id"`
	MessageID string `json:"message_id" db:"message_id"`

	Subject       string    `json:"subject" db:"subject"`
	FromName      string    `json:"from_name" db:"from_name"`
	FromAddress   string    `json:"from_address" db:"from_address"`
	SenderAddress string    `json:"sender_address" db:"sender_address"`
	SentAt        time.Time `json:"sent_at" db:"sent_at"`
	ReceivedAt    time.Time `json:"received_at" db:"received_at"`

	// Body is nil until fetched on demand.
	Body *string `json:"body,omitempty" db:"body"`
}

// Seen reports whether the message carries the \Seen flag.
func (e Email) Seen() bool {
	return e.Flags.Contains(FlagSeen)
}

// Flagged reports whether the message carries the \Flagged flag.
func (e Email) Flagged() bool {
	return e.Flags.Contains(FlagFlagged)
}

// WithFlag returns a copy of flags with flag added or removed.
func WithFlag(flags StringList, flag string, set bool) StringList {
	out := make(StringList, 0, len(flags)+1)
	for _, f := range flags {
		if f != flag {
			out = append(out, f)
		}
	}
	if set {
		out = append(out, flag)
	}
	return out
}
