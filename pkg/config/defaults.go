package config

import (
	"strings"
	"time"

	"github.com/marmos91/trustkit/internal/bytesize"
)

// Default values.
const (
	DefaultMaxRounds      = 4
	DefaultVerifyDepth    = 4
	DefaultMaxClockSkew   = 5 * time.Minute
	DefaultMaxMessageSize = 64 * bytesize.KiB
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyDigestDefaults(&cfg.Digest)
	applySessionDefaults(&cfg.Session)
	ApplyCredentialDefaults(&cfg.Credential)

	cfg.Mechanism = strings.ToLower(cfg.Mechanism)
	cfg.Role = strings.ToLower(cfg.Role)
	cfg.Credential.Mechanism = cfg.Mechanism
	cfg.Credential.Role = cfg.Role
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

func applyDigestDefaults(cfg *DigestConfig) {
	if len(cfg.Preference) == 0 {
		cfg.Preference = []string{"SHA3-512"}
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
}

// ApplyCredentialDefaults fills in whichever mechanism sections are present.
// The sections are modified in place.
func ApplyCredentialDefaults(cfg *CredentialConfig) {
	if cfg.PKI != nil {
		ApplyPKIDefaults(cfg.PKI)
	}
	if cfg.Context != nil {
		ApplyContextDefaults(cfg.Context)
	}
}

// ApplyPKIDefaults sets PKI defaults.
func ApplyPKIDefaults(cfg *PKIConfig) {
	if cfg.TrustRoot.VerifyDepth == 0 {
		cfg.TrustRoot.VerifyDepth = DefaultVerifyDepth
	}
}

// ApplyContextDefaults sets negotiated-context defaults.
func ApplyContextDefaults(cfg *ContextConfig) {
	if cfg.MaxClockSkew == 0 {
		cfg.MaxClockSkew = DefaultMaxClockSkew
	}
	if cfg.Security.Mode == "" {
		cfg.Security.Mode = SecurityOptional
	}
	cfg.Security.Mode = strings.ToLower(cfg.Security.Mode)
	if cfg.Name == "" && cfg.KeytabPath != "" {
		cfg.Name = cfg.Service
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
//
// The result has no credential material and does not pass Validate on its own.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Mechanism: MechanismPKI,
		Role:      RoleInitiator,
	}

	ApplyDefaults(cfg)
	return cfg
}
