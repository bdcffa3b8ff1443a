package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		want CommandMsg
		ok   bool
	}{
		{"sync", CommandMsg{Name: "sync", Args: []string{}}, true},
		{"Sync All", CommandMsg{Name: "sync all", Args: []string{}}, true},
		{"new bundle Travel ✈", CommandMsg{Name: "new bundle", Args: []string{"Travel", "✈"}}, true},
		{"frobnicate", CommandMsg{}, false},
		{"", CommandMsg{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := Parse(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
