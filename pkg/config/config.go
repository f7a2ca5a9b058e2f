package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/trustkit/internal/bytesize"
	"github.com/marmos91/trustkit/pkg/digest"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// Mechanism names accepted in configuration.
const (
	MechanismPKI               = "pki"
	MechanismNegotiatedContext = "negotiated-context"
)

// Role names accepted in configuration.
const (
	RoleInitiator = "initiator"
	RoleAcceptor  = "acceptor"
)

// Security modes for the negotiated-context mechanism.
const (
	SecurityOptional = "optional"
	SecurityRequired = "required"
)

// Config represents the trustkit configuration.
//
// This structure captures everything one node needs to take part in a
// mutual authentication handshake:
//   - Logging, telemetry and metrics
//   - The mechanism and the role this node plays
//   - The digest algorithm preference list
//   - Session limits
//   - Credential material for the selected mechanism
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (TRUSTKIT_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics controls Prometheus collectors
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Mechanism selects the authentication mechanism.
	// Valid values: pki, negotiated-context
	Mechanism string `mapstructure:"mechanism" validate:"required,oneof=pki negotiated-context" yaml:"mechanism"`

	// Role is the side of the handshake this node plays.
	// Valid values: initiator, acceptor
	Role string `mapstructure:"role" validate:"required,oneof=initiator acceptor" yaml:"role"`

	// Digest configures digest algorithm selection
	Digest DigestConfig `mapstructure:"digest" yaml:"digest"`

	// Session bounds handshake sessions
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Credential holds the material for the selected mechanism.
	// It is validated through ValidateCredential with Mechanism and Role.
	Credential CredentialConfig `mapstructure:"credential" validate:"-" yaml:"credential"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection to the collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// MetricsConfig controls Prometheus collectors.
// When Enabled is false, sessions run with nil metrics (zero overhead).
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DigestConfig configures digest algorithm selection.
type DigestConfig struct {
	// Preference lists digest algorithms in order of preference.
	// Accepts canonical names (SHA3-512, Blake2b, ...) or aliases.
	// Default: [SHA3-512]
	Preference []string `mapstructure:"preference" validate:"omitempty,dive,digestalg" yaml:"preference"`
}

// Algorithms resolves the preference list. An empty list yields the default.
func (d DigestConfig) Algorithms() ([]digest.Algorithm, error) {
	if len(d.Preference) == 0 {
		return []digest.Algorithm{digest.Default}, nil
	}
	return digest.ParseAlgorithms(d.Preference)
}

// SessionConfig bounds handshake sessions.
type SessionConfig struct {
	// MaxRounds is the maximum number of steps a session may take.
	// Default: 4
	MaxRounds int `mapstructure:"max_rounds" validate:"gte=1,lte=32" yaml:"max_rounds"`

	// MaxMessageSize bounds inbound handshake messages ("16Ki", "65536").
	// Default: 64Ki
	MaxMessageSize bytesize.ByteSize `mapstructure:"max_message_size" validate:"gte=256,lte=65536" yaml:"max_message_size"`
}

// CredentialConfig describes the credential material to load.
//
// Exactly one of PKI or Context is consulted, depending on Mechanism.
// Mechanism and Role mirror the top-level settings so a CredentialConfig
// can be loaded on its own.
type CredentialConfig struct {
	Mechanism string `mapstructure:"-" yaml:"-" json:"-" validate:"required,oneof=pki negotiated-context"`
	Role      string `mapstructure:"-" yaml:"-" json:"-" validate:"required,oneof=initiator acceptor"`

	// PKI holds certificate-based credential material
	PKI *PKIConfig `mapstructure:"pki" validate:"required_if=Mechanism pki" yaml:"pki,omitempty"`

	// Context holds negotiated-context (Kerberos) credential material
	Context *ContextConfig `mapstructure:"context" validate:"required_if=Mechanism negotiated-context" yaml:"context,omitempty"`
}

// PKIConfig configures certificate-based credentials.
type PKIConfig struct {
	// CertFile is a PEM file holding the leaf certificate followed by any
	// intermediates.
	CertFile string `mapstructure:"cert_file" validate:"required_without=PKCS12File" yaml:"cert_file,omitempty"`

	// KeyFile is a PEM file holding the private key (PKCS#8, PKCS#1 or SEC 1).
	KeyFile string `mapstructure:"key_file" validate:"required_with=CertFile" yaml:"key_file,omitempty"`

	// PKCS12File is an alternative to CertFile/KeyFile.
	PKCS12File string `mapstructure:"pkcs12_file" validate:"excluded_with=CertFile" yaml:"pkcs12_file,omitempty"`

	// PKCS12Password decrypts PKCS12File.
	PKCS12Password string `mapstructure:"pkcs12_password" yaml:"pkcs12_password,omitempty"`

	// TrustRoot configures the anchors peers are validated against
	TrustRoot TrustRootConfig `mapstructure:"trust_root" yaml:"trust_root"`

	// SPIFFETrustDomain, when set, requires the peer leaf to carry a SPIFFE
	// ID in this trust domain (e.g. "example.org").
	SPIFFETrustDomain string `mapstructure:"spiffe_trust_domain" yaml:"spiffe_trust_domain,omitempty"`
}

// TrustRootConfig lists trust anchors and revocation data.
type TrustRootConfig struct {
	// Dirs are directories scanned for *.pem / *.crt anchor files
	Dirs []string `mapstructure:"dirs" yaml:"dirs,omitempty"`

	// RootCerts are PEM files of trust anchors
	RootCerts []string `mapstructure:"root_certs" validate:"required_without=Dirs" yaml:"root_certs,omitempty"`

	// CRLs are PEM or DER certificate revocation lists
	CRLs []string `mapstructure:"crls" yaml:"crls,omitempty"`

	// VerifyDepth is the maximum number of certificates in a peer chain,
	// anchor included.
	// Default: 4
	VerifyDepth int `mapstructure:"verify_depth" validate:"gte=1,lte=16" yaml:"verify_depth"`

	// CRLCheck requires every non-anchor certificate to be checked against
	// the configured CRLs.
	CRLCheck bool `mapstructure:"crl_check" yaml:"crl_check"`
}

// ContextConfig configures negotiated-context (Kerberos) credentials.
type ContextConfig struct {
	// Name is the local principal: the client principal for initiators,
	// the keytab principal for acceptors (defaults to Service).
	Name string `mapstructure:"name" yaml:"name,omitempty"`

	// Service is the target service principal, e.g. "node/db1.example.com".
	Service string `mapstructure:"service" validate:"required" yaml:"service"`

	// Realm is the Kerberos realm. When empty, the default realm of
	// Krb5Conf is used.
	Realm string `mapstructure:"realm" yaml:"realm,omitempty"`

	// KeytabPath is the acceptor's keytab
	KeytabPath string `mapstructure:"keytab_path" yaml:"keytab_path,omitempty"`

	// TicketPath is an initiator ticket credential (DER or PEM "TRUSTKIT TICKET")
	TicketPath string `mapstructure:"ticket_path" yaml:"ticket_path,omitempty"`

	// CCachePath is an MIT credential cache, an alternative to TicketPath
	CCachePath string `mapstructure:"ccache_path" yaml:"ccache_path,omitempty"`

	// Krb5Conf is the Kerberos configuration file used for the default realm.
	Krb5Conf string `mapstructure:"krb5_conf" yaml:"krb5_conf,omitempty"`

	// MaxClockSkew is the tolerated clock difference between peers.
	// Default: 5m
	MaxClockSkew time.Duration `mapstructure:"max_clock_skew" yaml:"max_clock_skew"`

	// RequireConfirmation makes the acceptor ask for a confirmation round
	// (AP-REP continuation) before completing.
	RequireConfirmation bool `mapstructure:"require_confirmation" yaml:"require_confirmation"`

	// Security sets the per-message protection policy
	Security SecurityConfig `mapstructure:"security" yaml:"security"`
}

// SecurityConfig sets the per-message protection policy.
type SecurityConfig struct {
	// Mode is "optional" or "required"
	// Default: optional
	Mode string `mapstructure:"mode" validate:"oneof=optional required" yaml:"mode"`

	// Level is the minimum protection: 0 none, 1 integrity, 2 and above
	// confidentiality.
	Level int `mapstructure:"level" validate:"gte=0,lte=3" yaml:"level"`
}

// CredentialConfig returns the credential section with Mechanism and Role
// copied from the top level.
func (c *Config) CredentialConfig() *CredentialConfig {
	cc := c.Credential
	cc.Mechanism = c.Mechanism
	cc.Role = c.Role
	return &cc
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (TRUSTKIT_*)
//  2. Configuration file
//  3. Default values
//
// When no configuration file exists the defaults are returned unvalidated,
// which is enough for commands that do not authenticate. A file that cannot
// be read fails with CredentialError{Unreadable}; one that cannot be parsed
// or holds invalid values fails with CredentialError{Malformed}.
func Load(configPath string) (*Config, error) {
	const op = "config.load"

	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "cannot decode configuration values", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		// Validator messages name fields and rules, never values.
		return nil, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op,
			"configuration validation failed: "+err.Error(), err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  trustctl config init\n\n"+
				"Or specify a custom config file:\n"+
				"  trustctl <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  trustctl config init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may carry a PKCS#12 password.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: TRUSTKIT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("TRUSTKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/trustkit/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		var parseErr viper.ConfigParseError
		if errors.As(err, &parseErr) {
			return false, tkerrors.NewCredentialError(tkerrors.ErrMalformed, "config.load", "cannot parse configuration file", err)
		}
		return false, tkerrors.NewCredentialError(tkerrors.ErrUnreadable, "config.load", "cannot read configuration file", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		// max_message_size: 16Ki
		mapstructure.TextUnmarshallerHookFunc(),
		// TRUSTKIT_DIGEST_PREFERENCE=SHA3-512,Blake2b
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "trustkit")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "trustkit")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
