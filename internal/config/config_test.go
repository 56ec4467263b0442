package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Limits: LimitsConfig{
			MaxUploadSize:   100 * 1024 * 1024,
			MinUploadSize:   100,
			RateMaxRequests: 5,
			RateWindow:      time.Hour,
			StatusLogTail:   10,
		},
		Worker: WorkerConfig{Concurrency: 2, QueueSize: 20},
		Pipeline: PipelineConfig{
			BlenderPath:   "/usr/bin/blender",
			WinePath:      "/usr/bin/wine",
			StudioMDLPath: "/opt/studiomdl/studiomdl.exe",
			Convert:       StageConfig{Timeout: 5 * time.Minute, Weight: 40},
			Assemble:      StageConfig{Timeout: 30 * time.Second, Weight: 10},
			Compile:       StageConfig{Timeout: 5 * time.Minute, Weight: 50},
		},
		Storage: StorageConfig{
			WorkRoot:  "/tmp/conversiond",
			Retention: time.Hour,
		},
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "conversiond", cfg.App.Name)
				assert.Equal(t, 5, cfg.Limits.RateMaxRequests)
				assert.Equal(t, time.Hour, cfg.Limits.RateWindow)
				assert.Equal(t, "/usr/bin/blender", cfg.Pipeline.BlenderPath)
				assert.Equal(t, 5*time.Minute, cfg.Pipeline.Convert.Timeout)
				assert.Equal(t, 2, cfg.Worker.Concurrency)
				assert.Equal(t, time.Hour, cfg.Storage.Retention)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "zero max upload size",
			mutate:    func(c *Config) { c.Limits.MaxUploadSize = 0 },
			wantErr:   true,
			errString: "max_upload_size",
		},
		{
			name:      "min upload size above max",
			mutate:    func(c *Config) { c.Limits.MinUploadSize = c.Limits.MaxUploadSize + 1 },
			wantErr:   true,
			errString: "min_upload_size",
		},
		{
			name:      "zero rate limit",
			mutate:    func(c *Config) { c.Limits.RateMaxRequests = 0 },
			wantErr:   true,
			errString: "rate_max_requests",
		},
		{
			name:      "zero worker concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr:   true,
			errString: "worker concurrency",
		},
		{
			name:      "zero queue size",
			mutate:    func(c *Config) { c.Worker.QueueSize = 0 },
			wantErr:   true,
			errString: "queue_size",
		},
		{
			name:      "missing blender path",
			mutate:    func(c *Config) { c.Pipeline.BlenderPath = "" },
			wantErr:   true,
			errString: "blender_path is required",
		},
		{
			name:      "missing studiomdl path",
			mutate:    func(c *Config) { c.Pipeline.StudioMDLPath = "" },
			wantErr:   true,
			errString: "studiomdl_path is required",
		},
		{
			name:      "zero stage timeout",
			mutate:    func(c *Config) { c.Pipeline.Compile.Timeout = 0 },
			wantErr:   true,
			errString: "compile timeout",
		},
		{
			name:      "missing work root",
			mutate:    func(c *Config) { c.Storage.WorkRoot = "" },
			wantErr:   true,
			errString: "work_root is required",
		},
		{
			name: "archive enabled without host",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Port = 5432
				c.Archive.Database = "conversion_jobs"
			},
			wantErr:   true,
			errString: "archive host is required",
		},
		{
			name: "events enabled without exchange",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.Host = "localhost"
				c.Events.Port = 5672
			},
			wantErr:   true,
			errString: "events exchange name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.NoError(t, err)
	})

	t.Run("load config with missing tool path", func(t *testing.T) {
		cfg, err := Load("testdata/missing_tool.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "studiomdl_path is required")
	})
}

func TestPortConstants(t *testing.T) {
	t.Run("port constants are correct", func(t *testing.T) {
		assert.Equal(t, 1, MinPort)
		assert.Equal(t, 65535, MaxPort)
	})

	t.Run("invalid port range", func(t *testing.T) {
		invalidPorts := []int{0, -1, 65536, 70000}
		for _, port := range invalidPorts {
			valid := port >= MinPort && port <= MaxPort
			assert.False(t, valid, "port %d should be invalid", port)
		}
	})
}
