package na

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/na-ofi/pkg/fabric"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	provider, err := cfg.Normalize()
	require.NoError(t, err)
	assert.Equal(t, fabric.ProviderSockets, provider)
}

func TestNormalizeAliases(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Provider = "tcp"
	p, err := cfg.Normalize()
	require.NoError(t, err)
	assert.Equal(t, fabric.ProviderSockets, p)

	cfg.Provider = "verbs"
	p, err = cfg.Normalize()
	require.NoError(t, err)
	assert.Equal(t, fabric.ProviderVerbs, p)

	cfg.Provider = "nonsense"
	_, err = cfg.Normalize()
	require.Error(t, err)
}

func TestValidateRejectsMissingMaxContexts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContexts = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresGNIEnvVar(t *testing.T) {
	os.Unsetenv("FI_GNI_MR_CACHE")
	cfg := DefaultConfig()
	cfg.Provider = "gni"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, StatusInvalidParam, StatusOf(err))

	os.Setenv("FI_GNI_MR_CACHE", "1024")
	defer os.Unsetenv("FI_GNI_MR_CACHE")
	assert.NoError(t, cfg.Validate())
}

func TestDecodeAuthDecodesMapIntoStruct(t *testing.T) {
	type psm2Auth struct {
		UUID string `mapstructure:"uuid"`
	}

	cfg := DefaultConfig()
	cfg.Auth = map[string]any{"uuid": "abc-123"}

	var dst psm2Auth
	require.NoError(t, cfg.DecodeAuth(&dst))
	assert.Equal(t, "abc-123", dst.UUID)
}

func TestTelemetryZeroValueIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate(), "telemetry/profiling default to disabled and must not require an endpoint")
}

func TestTelemetryRejectsSampleRateOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telemetry.SampleRate = 1.5
	assert.Error(t, cfg.Validate())
}

func TestDecodeAuthNilMapIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	var dst struct{ X string }
	assert.NoError(t, cfg.DecodeAuth(&dst))
}
