package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_InertInProduction(t *testing.T) {
	setRequiredEnv(t)

	cfg := Default()
	cfg.Environment = Production
	cfg.Supabase.URL = "https://example.supabase.co"

	w, err := NewWatcher(cfg, nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.Same(t, cfg, w.Current())
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("httpAddr: \":7070\"\n"), 0o644))
	t.Setenv("KIRO2_CONFIG_FILE", path)

	initial, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":7070", initial.HTTPAddr)

	w, err := NewWatcher(initial, nil)
	require.NoError(t, err)
	defer w.Stop()

	reloaded := make(chan *Config, 1)
	w.OnReload(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("httpAddr: \":7071\"\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, ":7071", cfg.HTTPAddr)
		assert.Equal(t, ":7071", w.Current().HTTPAddr)
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback not invoked")
	}
}

func TestWatcher_KeepsCurrentConfigOnBadReload(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("httpAddr: \":7070\"\n"), 0o644))
	t.Setenv("KIRO2_CONFIG_FILE", path)

	initial, err := Load()
	require.NoError(t, err)

	w, err := NewWatcher(initial, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(":: not yaml ::"), 0o644))

	// Give the coalescing timer time to fire; the broken file must not
	// replace the running configuration.
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, ":7070", w.Current().HTTPAddr)
}
