package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/mailbundle/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
		ok     bool
	}{
		{name: "no labels", want: model.InboxBundle, ok: true},
		{name: "bundle label", labels: []string{"IMPORTANT", "ns/finance"}, want: "finance", ok: true},
		{name: "nested name", labels: []string{"ns/work/reports"}, want: "work/reports", ok: true},
		{name: "bare prefix", labels: []string{"ns/"}, want: model.InboxBundle, ok: true},
		{name: "sent wins", labels: []string{"ns/finance", "SENT"}, ok: false},
		{name: "sent any case", labels: []string{"sent"}, ok: false},
		{name: "foreign label", labels: []string{"other/finance"}, want: model.InboxBundle, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.labels, bundleCfg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
