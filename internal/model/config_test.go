package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultBundlePrefix, cfg.Bundles.Prefix)
	assert.Equal(t, DefaultSentLabel, cfg.Bundles.SentLabel)
	assert.Equal(t, 1, cfg.Runner.MaxRetries)
	assert.Empty(t, cfg.Accounts)
}

func TestLoadConfigAppliesAccountDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
bundles:
  prefix: "ns/"
accounts:
  - address: a@x.com
    imap_host: imap.x.com
  - address: b@x.com
    imap_host: imap.x.com
    enabled: false
    mailbox: INBOX
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ns/", cfg.Bundles.Prefix)
	assert.Equal(t, DefaultInboxLabel, cfg.Bundles.InboxLabel)
	require.Len(t, cfg.Accounts, 2)

	a := cfg.Accounts[0]
	assert.True(t, a.Enabled)
	assert.Equal(t, DefaultMailbox, a.Mailbox)
	assert.Equal(t, DefaultIMAPPort, a.IMAPPort)
	assert.Equal(t, DefaultPollIntervalSec, a.PollIntervalSec)

	b := cfg.Accounts[1]
	assert.False(t, b.Enabled)
	assert.Equal(t, "INBOX", b.Mailbox)

	got, ok := cfg.Account("B@X.COM")
	assert.True(t, ok)
	assert.Equal(t, "b@x.com", got.Address)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultAppConfig()
	cfg.Accounts = []AccountConfig{{
		Address:         "a@x.com",
		IMAPHost:        "imap.x.com",
		IMAPPort:        "993",
		Mailbox:         "INBOX",
		Enabled:         true,
		PollIntervalSec: 60,
	}}

	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, loaded.Accounts, 1)
	assert.Equal(t, 60, loaded.Accounts[0].PollIntervalSec)
	assert.Equal(t, "INBOX", loaded.Accounts[0].Mailbox)
}

func TestBundleLabelName(t *testing.T) {
	cfg := BundleConfig{Prefix: "ns/"}
	assert.Equal(t, "ns/finance", cfg.LabelName("finance"))
}
