// Package config loads coedit server settings from an optional TOML file
// and COEDIT_* environment variables. Environment variables win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DatabaseURL    string   `toml:"database_url"`    // COEDIT_DATABASE_URL (optional, empty = in-memory store)
	HTTPAddr       string   `toml:"http_addr"`       // COEDIT_HTTP_ADDR (default ":4000")
	GRPCAddr       string   `toml:"grpc_addr"`       // COEDIT_GRPC_ADDR (default ":9090", empty = disabled)
	NATSURL        string   `toml:"nats_url"`        // COEDIT_NATS_URL (optional, empty = no events)
	AllowedOrigins []string `toml:"allowed_origins"` // COEDIT_ALLOWED_ORIGINS (comma separated, default "*")

	// Sandbox settings
	SandboxTimeout   time.Duration `toml:"sandbox_timeout"`    // COEDIT_SANDBOX_TIMEOUT (default 1s)
	SandboxMaxOutput int           `toml:"sandbox_max_output"` // COEDIT_SANDBOX_MAX_OUTPUT (default 65536 bytes)
	SandboxMaxMemory int           `toml:"sandbox_max_memory"` // COEDIT_SANDBOX_MAX_MEMORY (default 67108864 bytes)

	// Sync settings
	SyncInterval   time.Duration `toml:"sync_interval"`    // COEDIT_SYNC_INTERVAL (default 0 = disabled)
	SyncS3Bucket   string        `toml:"sync_s3_bucket"`   // COEDIT_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        `toml:"sync_s3_endpoint"` // COEDIT_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        `toml:"sync_s3_region"`   // COEDIT_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        `toml:"sync_s3_key"`      // COEDIT_SYNC_S3_KEY (default "coedit/sessions.jsonl")
	SyncS3History  bool          `toml:"sync_s3_history"`  // COEDIT_SYNC_S3_HISTORY (keep timestamped copies)
	SyncGitRepo    string        `toml:"sync_git_repo"`    // COEDIT_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        `toml:"sync_git_file"`    // COEDIT_SYNC_GIT_FILE (default "sessions.jsonl")
	SyncGitBranch  string        `toml:"sync_git_branch"`  // COEDIT_SYNC_GIT_BRANCH (default "main")
	SyncGitRemote  string        `toml:"sync_git_remote"`  // COEDIT_SYNC_GIT_REMOTE (optional, empty = commit only)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:         ":4000",
		GRPCAddr:         ":9090",
		AllowedOrigins:   []string{"*"},
		SandboxTimeout:   time.Second,
		SandboxMaxOutput: 64 << 10,
		SandboxMaxMemory: 64 << 20,
		SyncS3Region:     "us-east-1",
		SyncS3Key:        "coedit/sessions.jsonl",
		SyncGitFile:      "sessions.jsonl",
		SyncGitBranch:    "main",
	}
}

// Load returns the defaults, overlaid with the TOML file named by
// COEDIT_CONFIG (if set), overlaid with COEDIT_* environment variables.
func Load() (*Config, error) {
	c := Default()
	if path := os.Getenv("COEDIT_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SyncEnabled reports whether periodic snapshot export has somewhere to go.
func (c *Config) SyncEnabled() bool {
	return c.SyncInterval > 0 && (c.SyncS3Bucket != "" || c.SyncGitRepo != "")
}

func (c *Config) applyEnv() error {
	envString(&c.DatabaseURL, "COEDIT_DATABASE_URL")
	envString(&c.HTTPAddr, "COEDIT_HTTP_ADDR")
	envString(&c.GRPCAddr, "COEDIT_GRPC_ADDR")
	envString(&c.NATSURL, "COEDIT_NATS_URL")
	if v, ok := os.LookupEnv("COEDIT_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	envString(&c.SyncS3Bucket, "COEDIT_SYNC_S3_BUCKET")
	envString(&c.SyncS3Endpoint, "COEDIT_SYNC_S3_ENDPOINT")
	envString(&c.SyncS3Region, "COEDIT_SYNC_S3_REGION")
	envString(&c.SyncS3Key, "COEDIT_SYNC_S3_KEY")
	envString(&c.SyncGitRepo, "COEDIT_SYNC_GIT_REPO")
	envString(&c.SyncGitFile, "COEDIT_SYNC_GIT_FILE")
	envString(&c.SyncGitBranch, "COEDIT_SYNC_GIT_BRANCH")
	envString(&c.SyncGitRemote, "COEDIT_SYNC_GIT_REMOTE")

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"COEDIT_SANDBOX_TIMEOUT", &c.SandboxTimeout},
		{"COEDIT_SYNC_INTERVAL", &c.SyncInterval},
	} {
		if v, ok := os.LookupEnv(d.key); ok && v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}
	for _, n := range []struct {
		key string
		dst *int
	}{
		{"COEDIT_SANDBOX_MAX_OUTPUT", &c.SandboxMaxOutput},
		{"COEDIT_SANDBOX_MAX_MEMORY", &c.SandboxMaxMemory},
	} {
		if v, ok := os.LookupEnv(n.key); ok && v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", n.key, err)
			}
			*n.dst = parsed
		}
	}
	if v, ok := os.LookupEnv("COEDIT_SYNC_S3_HISTORY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COEDIT_SYNC_S3_HISTORY: %w", err)
		}
		c.SyncS3History = b
	}
	return nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("COEDIT_HTTP_ADDR must not be empty")
	}
	if c.SandboxTimeout <= 0 {
		return fmt.Errorf("COEDIT_SANDBOX_TIMEOUT must be positive, got %s", c.SandboxTimeout)
	}
	if c.SandboxMaxOutput <= 0 {
		return fmt.Errorf("COEDIT_SANDBOX_MAX_OUTPUT must be positive, got %d", c.SandboxMaxOutput)
	}
	if c.SandboxMaxMemory <= 0 {
		return fmt.Errorf("COEDIT_SANDBOX_MAX_MEMORY must be positive, got %d", c.SandboxMaxMemory)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("COEDIT_SYNC_INTERVAL must not be negative, got %s", c.SyncInterval)
	}
	return nil
}

// envString overwrites *dst when key is set, even to the empty string, so
// an empty COEDIT_GRPC_ADDR disables the gRPC listener.
func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
