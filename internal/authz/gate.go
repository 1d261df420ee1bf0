package authz

// Gate bundles the three independent authorization gates. Every
// broker-capable call must pass all of them in the same call stack frame;
// none of the gates cache earlier readings.
type Gate struct {
	Mode   *ModeGate
	Kill   *KillSwitch
	Tokens *TokenValidator
}

// NewGate assembles the authorization boundary.
func NewGate(mode *ModeGate, kill *KillSwitch, tokens *TokenValidator) *Gate {
	return &Gate{Mode: mode, Kill: kill, Tokens: tokens}
}
