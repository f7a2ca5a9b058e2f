package telemetry

import "github.com/marmos91/trustkit/pkg/config"

// Config holds OpenTelemetry configuration
type Config struct {
	// Enabled indicates whether tracing is enabled
	Enabled bool

	// ServiceName is the name reported to the trace backend
	ServiceName string

	// ServiceVersion is the build version
	ServiceVersion string

	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	Endpoint string

	// Insecure disables TLS towards the collector
	Insecure bool

	// SampleRate is the trace sampling rate (0.0 to 1.0)
	SampleRate float64
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "trustkit",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// FromConfig builds a telemetry Config from the telemetry section of a
// trustkit configuration file.
func FromConfig(tc config.TelemetryConfig, version string) Config {
	cfg := DefaultConfig()
	cfg.Enabled = tc.Enabled
	cfg.Insecure = tc.Insecure
	cfg.SampleRate = tc.SampleRate
	if tc.Endpoint != "" {
		cfg.Endpoint = tc.Endpoint
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	return cfg
}
