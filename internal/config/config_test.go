package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 50, cfg.Aggregate.SnapshotEvery)
	assert.Equal(t, uint(5), cfg.Aggregate.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Pricing.Timeout)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
store:
  driver: sqlite
  sqlite_path: /tmp/payments.db
aggregate:
  snapshot_every: 10
`), 0o600))

	t.Setenv("PAYMENTS_PORT", "9191")
	t.Setenv("PAYMENTS_PRICING_URL", "http://pricing.internal")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9191", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/payments.db", cfg.Store.SQLitePath)
	assert.Equal(t, 10, cfg.Aggregate.SnapshotEvery)
	assert.Equal(t, "http://pricing.internal", cfg.Pricing.URL)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("PAYMENTS_STORE_DRIVER", "cassandra")
	_, err := Load("")
	assert.ErrorContains(t, err, "store.driver")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		Store:     StoreConfig{Driver: "sqlite"},
		Aggregate: AggregateConfig{SnapshotEvery: -1},
		HTTP:      HTTPConfig{RateLimit: 1, RateBurst: 1},
	}
	err := cfg.Validate()
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 3)
	assert.ErrorContains(t, err, "store.sqlite_path")
	assert.ErrorContains(t, err, "pricing.url")
}
