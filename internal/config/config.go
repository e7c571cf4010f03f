package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Run modes
const (
	RunModeOnce   = "once"
	RunModeServer = "server"
)

// Config holds application configuration
type Config struct {
	Source    SourceConfig
	Directory DirectoryConfig
	Policy    PolicyConfig
	Server    ServerConfig
	Trigger   TriggerConfig
	RunLock   RunLockConfig
	LogLevel  string
	RunMode   string
	DryRun    bool
}

// SourceConfig holds object storage settings for the LDAP export
type SourceConfig struct {
	Bucket        string
	ObjectKey     string
	AssumeRoleARN string
	Region        string
}

// DirectoryConfig holds directory API configuration
type DirectoryConfig struct {
	BaseURL          string
	Domain           string
	KeyfileParameter string // SSM parameter holding the service account key
	KeyfilePath      string // Local key file, takes precedence over KeyfileParameter
	DelegatedSubject string
	PageSize         int
	SuspensionReason string
}

// PolicyConfig holds the reconciliation policy
type PolicyConfig struct {
	SourceDomains []string // Source email domains that are projected into the directory
	Whitelist     []string // Primary emails never created or disabled
	File          string   // Optional YAML file merged over the env values
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
}

// TriggerConfig holds trigger endpoint security configuration
type TriggerConfig struct {
	Secret             string // HS256 secret for bearer tokens
	EnableVerification bool
}

// RunLockConfig holds the run lock backend configuration
type RunLockConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTLSeconds    int
}

// Load loads configuration from environment variables.
// A .env file in the working directory is read first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Source: SourceConfig{
			Bucket:        getEnv("S3_BUCKET_NAME", "cache.ldap.mozilla.com"),
			ObjectKey:     getEnv("LDAP_OBJECT_KEY", "ldap-full-profile-v2.json.xz"),
			AssumeRoleARN: getEnv("ASSUME_ROLE_ARN", "arn:aws:iam::371522382791:role/gsuite-cloud-users-driver-ldap-read"),
			Region:        getEnv("AWS_REGION", "us-west-2"),
		},
		Directory: DirectoryConfig{
			BaseURL:          getEnv("DIRECTORY_BASE_URL", "https://admin.googleapis.com"),
			Domain:           strings.ToLower(getEnv("TARGET_DOMAIN", "gcp.infra.mozilla.com")),
			KeyfileParameter: getEnv("DIRECTORY_KEYFILE_PARAMETER", "/iam/gcp/cloud-account-driver"),
			KeyfilePath:      getEnv("DIRECTORY_KEYFILE_PATH", ""),
			DelegatedSubject: getEnv("DIRECTORY_DELEGATED_SUBJECT", "iam-robot@gcp.infra.mozilla.com"),
			PageSize:         getEnvAsInt("DIRECTORY_PAGE_SIZE", 500),
			SuspensionReason: getEnv("SUSPENSION_REASON", "The user no longer exists in ldap and was disabled by mozilla-iam."),
		},
		Policy: PolicyConfig{
			SourceDomains: parseList(getEnv("SOURCE_DOMAINS", "mozilla.com,mozillafoundation.org,getpocket.com")),
			Whitelist:     parseList(getEnv("USER_WHITELIST", "super-admin@gcp.infra.mozilla.com,iam-robot@gcp.infra.mozilla.com")),
			File:          getEnv("POLICY_FILE", ""),
		},
		Server: ServerConfig{
			Port: getEnv("PORT", "3000"),
		},
		Trigger: TriggerConfig{
			Secret:             getEnv("TRIGGER_SECRET", ""),
			EnableVerification: getEnv("TRIGGER_VERIFY", "true") == "true",
		},
		RunLock: RunLockConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			TTLSeconds:    getEnvAsInt("RUN_LOCK_TTL_SECONDS", 900),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
		RunMode:  strings.ToLower(getEnv("RUN_MODE", RunModeOnce)),
		DryRun:   getEnv("DRY_RUN", "false") == "true",
	}
}

// Validate checks the settings the reconciler cannot run without
func (c *Config) Validate() error {
	if c.Directory.Domain == "" {
		return fmt.Errorf("TARGET_DOMAIN must not be empty")
	}
	if len(c.Policy.SourceDomains) == 0 {
		return fmt.Errorf("SOURCE_DOMAINS must list at least one domain")
	}
	if c.Directory.PageSize <= 0 {
		return fmt.Errorf("DIRECTORY_PAGE_SIZE must be > 0, got %d", c.Directory.PageSize)
	}
	if c.Source.Bucket == "" || c.Source.ObjectKey == "" {
		return fmt.Errorf("S3_BUCKET_NAME and LDAP_OBJECT_KEY are required")
	}
	switch c.RunMode {
	case RunModeOnce, RunModeServer:
	default:
		return fmt.Errorf("unknown RUN_MODE %q (expected %q or %q)", c.RunMode, RunModeOnce, RunModeServer)
	}
	return nil
}

// WhitelistSet returns the whitelist as a lowercase lookup set
func (c *Config) WhitelistSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Policy.Whitelist))
	for _, email := range c.Policy.Whitelist {
		set[strings.ToLower(email)] = struct{}{}
	}
	return set
}

// HasTriggerSecret returns true if a trigger secret is configured
func (c *Config) HasTriggerSecret() bool {
	return c.Trigger.Secret != ""
}

// TriggerSecurityMode returns a description of the current trigger security mode
func (c *Config) TriggerSecurityMode() string {
	if !c.Trigger.EnableVerification {
		return "Disabled (INSECURE)"
	}
	if c.HasTriggerSecret() {
		return "Bearer token verification enabled"
	}
	return "Verification enabled but no secret configured"
}

// HasRedis returns true if a redis run lock backend is configured
func (c *Config) HasRedis() bool {
	return c.RunLock.RedisAddr != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseList parses a comma-separated list, lowercasing and trimming entries
func parseList(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0) // Initialize to empty slice, not nil
	for _, part := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
