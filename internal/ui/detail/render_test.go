package detail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "  hello\nworld  ", "hello\nworld"},
		{"paragraphs", "<p>Hi Bob,</p><p>See you &amp; Ann<br>tomorrow</p>", "Hi Bob,\nSee you & Ann\ntomorrow"},
		{"script dropped", "<div>ok</div><script>alert(1)</script>", "ok"},
		{"blank runs", "<p>a</p>\n\n\n\n<p>b</p>", "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlainText(tt.in))
		})
	}
}
