package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestDefaultSentryConfigIsValid(t *testing.T) {
	cfg := DefaultSentryConfig()
	require.NoError(t, validate.Struct(cfg))
	require.Equal(t, 10000, cfg.Correlator.MaxFlowContexts)
	require.Equal(t, 1000, cfg.Detector.TrainingSamples)
	require.Equal(t, 0.95, cfg.Detector.AlertThreshold)
}

func TestDefaultOracleConfigIsValid(t *testing.T) {
	cfg := DefaultOracleConfig()
	require.NoError(t, validate.Struct(cfg))
	require.Equal(t, 50, cfg.Ingest.RateLimitPerMin)
	require.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadSentryConfigOverridesDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	err := afero.WriteFile(fs, "/etc/sentry.hjson", []byte(`{
		detector: {
			alert_threshold: 0.8
			training_samples: 500
		}
	}`), 0o644)
	require.NoError(t, err)

	cfg, err := LoadSentryConfig(fs, "/etc/sentry.hjson")
	require.NoError(t, err)
	require.Equal(t, 0.8, cfg.Detector.AlertThreshold)
	require.Equal(t, 500, cfg.Detector.TrainingSamples)
	// Fields absent from the override file keep their defaults.
	require.Equal(t, 10000, cfg.Correlator.MaxFlowContexts)
}

func TestLoadSentryConfigRejectsMissingSearchPaths(t *testing.T) {
	fs := afero.NewMemMapFs()
	err := afero.WriteFile(fs, "/etc/sentry.hjson", []byte(`{
		log_reader: { search_paths: [] }
	}`), 0o644)
	require.NoError(t, err)

	_, err = LoadSentryConfig(fs, "/etc/sentry.hjson")
	require.Error(t, err)
}

func TestLoadOracleConfigRequiresPostgresDSNWhenBackendIsPostgres(t *testing.T) {
	fs := afero.NewMemMapFs()
	err := afero.WriteFile(fs, "/etc/oracle.hjson", []byte(`{
		store: { backend: postgres }
	}`), 0o644)
	require.NoError(t, err)

	_, err = LoadOracleConfig(fs, "/etc/oracle.hjson")
	require.Error(t, err)

	t.Setenv("ORACLE_POSTGRES_DSN", "postgres://localhost/oracle")
	cfg, err := LoadOracleConfig(fs, "/etc/oracle.hjson")
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Store.Backend)
}

func TestLoadSentryConfigMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := LoadSentryConfig(fs, "/does/not/exist.hjson")
	require.Error(t, err)
}
