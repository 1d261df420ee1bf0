package authz

import (
	"strings"

	execerrors "github.com/tradesys/ordergate/internal/errors"
)

// OperatingMode gates whether any broker-capable call may proceed.
type OperatingMode string

const (
	ModeDisabled OperatingMode = "DISABLED"
	ModeWarmup   OperatingMode = "WARMUP"
	ModeLive     OperatingMode = "LIVE"
	ModeHalted   OperatingMode = "HALTED"
)

// ResolveOperatingMode parses the configured mode string. Missing or
// unparseable input resolves to DISABLED (fail-closed).
func ResolveOperatingMode(raw string) OperatingMode {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(ModeWarmup):
		return ModeWarmup
	case string(ModeLive):
		return ModeLive
	case string(ModeHalted):
		return ModeHalted
	default:
		return ModeDisabled
	}
}

// ModeGate re-reads the operating mode at every check. The source func is
// consulted at the point of use so a configuration change between a
// producer's first check and the broker call is always observed.
type ModeGate struct {
	source func() string
}

// NewModeGate creates a mode gate over a configuration reader.
func NewModeGate(source func() string) *ModeGate {
	return &ModeGate{source: source}
}

// Current resolves the mode from the live configuration source.
func (g *ModeGate) Current() OperatingMode {
	if g.source == nil {
		return ModeDisabled
	}
	return ResolveOperatingMode(g.source())
}

// RequireLive returns nil only when the mode is LIVE. HALTED raises the
// distinct emergency-stop error even if every other gate would pass.
func (g *ModeGate) RequireLive(action string) error {
	mode := g.Current()
	switch mode {
	case ModeLive:
		return nil
	case ModeHalted:
		return execerrors.NewEmergencyStopError("authz", action).
			WithReason("emergency_stop")
	default:
		return execerrors.NewAuthzError("authz", action, "operating mode is not LIVE").
			WithReason("mode_not_live").
			WithContext("mode", string(mode))
	}
}
