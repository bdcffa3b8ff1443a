package sync

import (
	"strings"

	"github.com/nhle/mailbundle/internal/model"
)

// Classify picks the bundle for a newly fetched message from its labels.
// ok is false for messages carrying the sent label, which are never placed.
// A label in the bundle namespace names the bundle; otherwise the message
// goes to the inbox.
func Classify(labels []string, cfg model.BundleConfig) (bundle string, ok bool) {
	for _, l := range labels {
		if cfg.SentLabel != "" && strings.EqualFold(l, cfg.SentLabel) {
			return "", false
		}
	}

	if cfg.Prefix != "" {
		for _, l := range labels {
			if name, found := strings.CutPrefix(l, cfg.Prefix); found && name != "" {
				return name, true
			}
		}
	}

	return model.InboxBundle, true
}
