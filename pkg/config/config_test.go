package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/trustkit/pkg/digest"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences (e.g. \U -> Unicode escape), causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_PKIConfig(t *testing.T) {
	dir := yamlSafePath(t.TempDir())
	path := writeConfig(t, `
mechanism: pki
role: initiator
digest:
  preference: [blake2b-512, SHA3-512]
credential:
  pki:
    cert_file: "`+dir+`/node.pem"
    key_file: "`+dir+`/node.key"
    trust_root:
      root_certs: ["`+dir+`/ca.pem"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Session.MaxRounds != DefaultMaxRounds {
		t.Errorf("Expected default max_rounds %d, got %d", DefaultMaxRounds, cfg.Session.MaxRounds)
	}
	if cfg.Credential.PKI.TrustRoot.VerifyDepth != DefaultVerifyDepth {
		t.Errorf("Expected default verify_depth %d, got %d", DefaultVerifyDepth, cfg.Credential.PKI.TrustRoot.VerifyDepth)
	}

	algs, err := cfg.Digest.Algorithms()
	if err != nil {
		t.Fatalf("Algorithms: %v", err)
	}
	if len(algs) != 2 || algs[0] != digest.Blake2b || algs[1] != digest.SHA3_512 {
		t.Errorf("Unexpected digest preference %v", algs)
	}

	cc := cfg.CredentialConfig()
	if cc.Mechanism != MechanismPKI || cc.Role != RoleInitiator {
		t.Errorf("Credential config did not inherit mechanism/role: %+v", cc)
	}
}

func TestLoad_ContextConfig(t *testing.T) {
	path := writeConfig(t, `
mechanism: negotiated-context
role: acceptor
credential:
  context:
    service: node/db1.example.com
    realm: EXAMPLE.COM
    keytab_path: /etc/trustkit/node.keytab
    max_clock_skew: 2m
    require_confirmation: true
    security:
      mode: required
      level: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	ctx := cfg.Credential.Context
	if ctx.MaxClockSkew != 2*time.Minute {
		t.Errorf("Expected max_clock_skew 2m, got %v", ctx.MaxClockSkew)
	}
	if !ctx.RequireConfirmation {
		t.Error("Expected require_confirmation to be true")
	}
	if ctx.Name != "node/db1.example.com" {
		t.Errorf("Expected acceptor name to default to service, got %q", ctx.Name)
	}
	if ctx.Security.Mode != SecurityRequired || ctx.Security.Level != 2 {
		t.Errorf("Unexpected security settings %+v", ctx.Security)
	}
}

func TestLoad_MaxMessageSize(t *testing.T) {
	dir := yamlSafePath(t.TempDir())
	path := writeConfig(t, `
mechanism: pki
role: acceptor
session:
  max_message_size: 16Ki
credential:
  pki:
    cert_file: "`+dir+`/node.pem"
    key_file: "`+dir+`/node.key"
    trust_root:
      root_certs: ["`+dir+`/ca.pem"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Session.MaxMessageSize != 16*1024 {
		t.Errorf("Expected max_message_size 16384, got %d", cfg.Session.MaxMessageSize)
	}

	out := filepath.Join(t.TempDir(), "saved.yaml")
	if err := SaveConfig(cfg, out); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "max_message_size: 16Ki") {
		t.Errorf("Expected max_message_size to be saved as 16Ki, got:\n%s", data)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Mechanism != MechanismPKI {
		t.Errorf("Expected default mechanism pki, got %q", cfg.Mechanism)
	}
	if len(cfg.Digest.Preference) != 1 || cfg.Digest.Preference[0] != "SHA3-512" {
		t.Errorf("Expected default digest preference [SHA3-512], got %v", cfg.Digest.Preference)
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	dir := yamlSafePath(t.TempDir())
	path := writeConfig(t, `
mechanism: pki
role: acceptor
logging:
  level: INFO
credential:
  pki:
    cert_file: "`+dir+`/node.pem"
    key_file: "`+dir+`/node.key"
    trust_root:
      dirs: ["`+dir+`/anchors"]
`)
	t.Setenv("TRUSTKIT_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected env override DEBUG, got %q", cfg.Logging.Level)
	}
}

func TestLoad_InvalidMechanism(t *testing.T) {
	path := writeConfig(t, `
mechanism: ntlm
role: initiator
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected validation error for unknown mechanism")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
	if !tkerrors.Is(err, tkerrors.ErrMalformed) || tkerrors.KindOf(err) != tkerrors.KindCredential {
		t.Errorf("Expected CredentialError(Malformed), got: %v", err)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "mechanism: [pki\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected error for malformed YAML")
	}
	if !tkerrors.Is(err, tkerrors.ErrMalformed) {
		t.Errorf("Expected CredentialError(Malformed), got: %v", err)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := validPKIConfig()
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 && os.PathSeparator == '/' {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Credential.PKI.CertFile != cfg.Credential.PKI.CertFile {
		t.Errorf("cert_file not preserved: %q", loaded.Credential.PKI.CertFile)
	}
	if loaded.Role != cfg.Role {
		t.Errorf("role not preserved: %q", loaded.Role)
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "trustctl config init") {
		t.Errorf("Expected init hint in error, got: %v", err)
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	if got := GetConfigDir(); got != filepath.Join(xdg, "trustkit") {
		t.Errorf("Unexpected config dir %q", got)
	}
	if DefaultConfigExists() {
		t.Error("Expected no default config in fresh XDG dir")
	}
}
