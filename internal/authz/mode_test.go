package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	execerrors "github.com/tradesys/ordergate/internal/errors"
)

func TestResolveOperatingMode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want OperatingMode
	}{
		{"live", "LIVE", ModeLive},
		{"live lowercase", "live", ModeLive},
		{"live padded", "  Live ", ModeLive},
		{"warmup", "WARMUP", ModeWarmup},
		{"halted", "halted", ModeHalted},
		{"disabled", "DISABLED", ModeDisabled},
		{"empty resolves disabled", "", ModeDisabled},
		{"garbage resolves disabled", "productionish", ModeDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveOperatingMode(tt.raw))
		})
	}
}

func TestModeGateRequireLive(t *testing.T) {
	mode := "LIVE"
	gate := NewModeGate(func() string { return mode })

	require.NoError(t, gate.RequireLive("place_order"))

	mode = "WARMUP"
	err := gate.RequireLive("place_order")
	require.Error(t, err)
	assert.Equal(t, execerrors.CategoryAuthz, execerrors.CategoryOf(err))
	assert.Equal(t, "mode_not_live", execerrors.ReasonOf(err))

	mode = "HALTED"
	err = gate.RequireLive("place_order")
	require.Error(t, err)
	assert.Equal(t, execerrors.CategoryEmergencyStop, execerrors.CategoryOf(err))
	assert.True(t, execerrors.IsFatal(err))
}

func TestModeGateReadsSourceAtPointOfUse(t *testing.T) {
	mode := "LIVE"
	gate := NewModeGate(func() string { return mode })

	require.NoError(t, gate.RequireLive("place_order"))

	// Flip the source between checks; the gate must observe the change.
	mode = "DISABLED"
	require.Error(t, gate.RequireLive("place_order"))
}
