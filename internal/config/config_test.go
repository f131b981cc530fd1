package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "pharmily.db", cfg.Database.Path)
	assert.Equal(t, "./temp_prescriptions", cfg.Storage.OutputDir)
	assert.Equal(t, "Asia/Jakarta", cfg.Clinic.Timezone)
	assert.Equal(t, 5*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 8081, cfg.Outbox.HealthPort)
	assert.Equal(t, 5, cfg.Outbox.BreakerFailures)
	assert.Equal(t, 30*time.Second, cfg.Outbox.BreakerTimeout)
	assert.True(t, cfg.Seed.Enabled)
	assert.False(t, cfg.Render.FlowPatientBlock)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("PRESCRIPTION_DATABASE_DRIVER", "postgres")
	t.Setenv("PRESCRIPTION_DATABASE_NAME", "clinic")
	t.Setenv("PRESCRIPTION_STORAGE_OUTPUT_DIR", "/var/lib/rx")
	t.Setenv("PRESCRIPTION_SERVER_PORT", "9090")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "clinic", cfg.Database.Name)
	assert.Equal(t, "/var/lib/rx", cfg.Storage.OutputDir)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
database:
  driver: sqlite
  path: /tmp/test.db
clinic:
  timezone: Asia/Makassar
render:
  flow_patient_block: true
outbox:
  poll_interval: 250ms
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, "Asia/Makassar", cfg.Location().String())
	assert.True(t, cfg.Render.FlowPatientBlock)
	assert.Equal(t, 250*time.Millisecond, cfg.Outbox.PollInterval)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, true},
		{"no output dir", func(c *Config) { c.Storage.OutputDir = "" }, true},
		{"bad timezone", func(c *Config) { c.Clinic.Timezone = "Mars/Olympus" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Database: DatabaseConfig{Driver: "sqlite", Path: "x.db"},
				Storage:  StorageConfig{OutputDir: "out"},
				Clinic:   ClinicConfig{Timezone: "Asia/Jakarta"},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
