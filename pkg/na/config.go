package na

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/na-ofi/pkg/fabric"
)

// ProgressMode selects whether progress() spins or blocks on a wait
// object.
type ProgressMode string

const (
	ProgressBlocking    ProgressMode = "blocking"
	ProgressNonBlocking ProgressMode = "non_blocking"
)

// Config is the plugin's open-time configuration. It carries no CLI or
// environment-loading logic of its own (out of scope per spec.md §6); the
// upper framework is expected to assemble one from whatever configuration
// source it already has and hand it to Open.
type Config struct {
	// Provider is one of sockets/tcp, verbs, psm2, gni. Normalize maps
	// "tcp" to "sockets" and "verbs" to fabric.ProviderVerbs, whose tag is
	// "verbs", not "verbs;ofi_rxm".
	Provider string `validate:"required,oneof=sockets tcp verbs psm2 gni"`

	// HostName is an optional "host[:service]" string; when empty the
	// provider chooses an ephemeral bind.
	HostName string `validate:"omitempty,hostname_port|hostname"`

	ProgressMode ProgressMode `validate:"required,oneof=blocking non_blocking"`

	MaxContexts int `validate:"required,min=1,max=255"`

	// AuthKey is provider-specific auth material (the GNI auth key). A
	// nil pointer means "no authentication" and must not be
	// synthesized into a zero value, per the supplemented behavior in
	// SPEC_FULL.md §5.2.
	AuthKey *uint64

	// Auth holds raw provider-specific key/value auth material (e.g.
	// the PSM2 UUID) before it's decoded into AuthKey or another typed
	// field by DecodeAuth.
	Auth map[string]any

	// Telemetry controls the OpenTelemetry tracing and Pyroscope
	// profiling wired around domain/endpoint/progress operations.
	// Both are opt-in: the zero value disables both.
	Telemetry TelemetryConfig
}

// TelemetryConfig gates OpenTelemetry tracing for na-ofi operations.
type TelemetryConfig struct {
	Enabled    bool
	Endpoint   string `validate:"omitempty,hostname_port"`
	Insecure   bool
	SampleRate float64 `validate:"omitempty,gte=0,lte=1"`

	// Profiling gates Pyroscope continuous profiling of the progress
	// engine's hot loop, per SPEC_FULL.md §4.
	Profiling ProfilingConfig
}

// ProfilingConfig gates Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool
	Endpoint     string `validate:"omitempty,url"`
	ProfileTypes []string
}

var validate = validator.New()

// DefaultConfig returns a minimal valid configuration for the sockets
// provider.
func DefaultConfig() Config {
	return Config{
		Provider:     "sockets",
		ProgressMode: ProgressBlocking,
		MaxContexts:  1,
	}
}

// Normalize maps the "tcp"/"verbs" aliases onto their canonical provider
// tags, per §6's config-options note.
func (c Config) Normalize() (fabric.Provider, error) {
	switch c.Provider {
	case "tcp", "sockets":
		return fabric.ProviderSockets, nil
	case "verbs":
		return fabric.ProviderVerbs, nil
	case "psm2":
		return fabric.ProviderPSM2, nil
	case "gni":
		return fabric.ProviderGNI, nil
	default:
		return "", newError(StatusInvalidParam, "unknown provider %q", c.Provider)
	}
}

// Validate runs struct-tag validation and the provider-specific checks the
// tags alone can't express (GNI's required environment variable).
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return wrapError(StatusInvalidParam, err, "invalid config")
	}

	provider, err := c.Normalize()
	if err != nil {
		return err
	}

	if provider == fabric.ProviderGNI {
		if _, ok := os.LookupEnv("FI_GNI_MR_CACHE"); !ok {
			return newError(StatusInvalidParam,
				"GNI provider requires FI_GNI_MR_CACHE to be set (controls the provider's MR cache size)")
		}
	}

	return nil
}

// DecodeAuth decodes the generic Auth map into dst (a typed provider-auth
// struct) without the plugin itself ever parsing CLI flags or environment
// variables: the upper framework is responsible for assembling Auth from
// whatever source it already has.
func (c Config) DecodeAuth(dst any) error {
	if c.Auth == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("na: building auth decoder: %w", err)
	}
	if err := dec.Decode(c.Auth); err != nil {
		return wrapError(StatusInvalidParam, err, "decoding provider auth material")
	}
	return nil
}
