package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: info
  console: true
storage:
  driver: file
  path: ./data/checkpoints.json
accounts:
  path: ./data/accounts.db
  default_capacity: 500
autorun:
  autosave: 30s
  restore_rate: 5
  standard:
    batch_size: 10
    base_delay: 10s
    reduced_delay: 6s
    min_delay: 1s
    prices: {common: 2, rare: 20}
    protected_rarities: [mythic]
  event:
    enabled: false
    batch_size: 5
    base_delay: 20s
    window_start: "2026-01-01T00:00:00Z"
    window_end: "2026-02-01T00:00:00Z"
    min_currency: 100
    currency: tokens
roll:
  tiers:
    - {rarity: common, weight: 90, items: [pebble]}
    - {rarity: rare, weight: 10, items: [gem]}
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(writeConfig(t, "autoroll.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, int64(500), cfg.Accounts.DefaultCapacity)
	assert.True(t, cfg.Autorun.Standard.IsEnabled())
	assert.False(t, cfg.Autorun.Event.IsEnabled())
	assert.Equal(t, int64(20), cfg.Autorun.Standard.Prices["rare"])
	require.Len(t, cfg.Roll.Tiers, 2)
	assert.Equal(t, []string{"gem"}, cfg.Roll.Tiers[1].Items)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"logging":{"level":"info"},"chat":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat")

	_, err = Decode("c.yaml", []byte("autorun:\n  standard:\n    batchsize: 3\n"))
	assert.Error(t, err)

	_, err = Decode("c.json", []byte(`{} {}`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	bad := *cfg
	bad.Autorun.Standard.BatchSize = 0
	bad.Autorun.Event.WindowEnd = "2025-01-01T00:00:00Z"
	bad.Autorun.Autosave = "soon"
	bad.Storage.Driver = "redis"
	err = Validate(&bad)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"standard.batch_size", "window_end", "autorun.autosave", "storage.driver"} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %s", want, msg)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	newCfg, err := Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	changed, restart, _ := SummarizeConfigChange(oldCfg, newCfg)
	assert.Empty(t, changed)
	assert.Empty(t, restart)

	newCfg.Autorun.Standard.BaseDelay = "5s"
	newCfg.Storage.Path = "elsewhere.json"
	changed, restart, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"autorun.standard"}, changed)
	assert.Equal(t, []string{"storage"}, restart)
	assert.NotEmpty(t, attrs)
}

func TestWatchPublishesChanges(t *testing.T) {
	path := writeConfig(t, "autoroll.yaml", sampleYAML)
	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	updated := strings.Replace(sampleYAML, "base_delay: 10s", "base_delay: 4s", 1)
	// Rewrite until the watcher has picked the change up; the first write may
	// land before the watch is registered.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(updated), 0o600)
		select {
		case cfg := <-ch:
			return cfg.Autorun.Standard.BaseDelay == "4s"
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "4s", m.Get().Autorun.Standard.BaseDelay)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)

	ts, err := ParseTimeField("x", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.Year())
}
