package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	thread := EmailThread{ID: "t1", AccountID: "acc"}

	emails := []Email{
		{FromName: "Bob", FromAddress: "bob@x.com", ReceivedAt: base.Add(2 * time.Hour), Flags: StringList{FlagSeen}},
		{FromName: "Alice", FromAddress: "alice@x.com", ReceivedAt: base, Flags: StringList{FlagSeen, FlagFlagged}},
		{FromName: "Me", FromAddress: "ME@x.com", ReceivedAt: base.Add(time.Hour), Flags: StringList{FlagSeen}},
		{FromName: "", FromAddress: "Alice@x.com", ReceivedAt: base.Add(3 * time.Hour)},
	}

	s := Summarize(thread, "me@x.com", emails)

	assert.False(t, s.Seen, "one member is unseen")
	assert.True(t, s.Flagged)
	assert.Equal(t, []string{"Alice", "Bob"}, s.FromLine)
	assert.Equal(t, 4, s.MessageCount)
}

func TestSummarizeAllSeen(t *testing.T) {
	s := Summarize(EmailThread{ID: "t"}, "me@x.com", []Email{
		{FromAddress: "x@y.com", Flags: StringList{FlagSeen}},
	})
	assert.True(t, s.Seen)
	assert.False(t, s.Flagged)
	assert.Equal(t, []string{"x@y.com"}, s.FromLine)
}

func TestSummarizeEmptyThreadIsNotSeen(t *testing.T) {
	s := Summarize(EmailThread{ID: "t"}, "me@x.com", nil)
	assert.False(t, s.Seen)
	assert.Zero(t, s.MessageCount)
}

func TestStringListScan(t *testing.T) {
	var l StringList
	assert.NoError(t, l.Scan(`["\\Seen","custom"]`))
	assert.Equal(t, StringList{`\Seen`, "custom"}, l)

	assert.NoError(t, l.Scan(nil))
	assert.Nil(t, l)

	v, err := StringList(nil).Value()
	assert.NoError(t, err)
	assert.Equal(t, "[]", v)

	assert.Error(t, l.Scan(42))
}

func TestWithFlag(t *testing.T) {
	flags := StringList{FlagSeen, "x"}
	assert.Equal(t, StringList{"x"}, WithFlag(flags, FlagSeen, false))
	assert.Equal(t, StringList{"x", FlagSeen}, WithFlag(flags, FlagSeen, true))
	assert.Equal(t, StringList{FlagSeen, "x"}, flags, "input is not mutated")
}
