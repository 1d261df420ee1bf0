package authz

import (
	"bufio"
	"os"
	"strings"

	execerrors "github.com/tradesys/ordergate/internal/errors"
)

// Truthy values accepted for both the explicit flag and the file's first line.
func truthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// KillSwitch halts all broker side effects immediately. It is engaged when
// the explicit flag source is truthy OR when the mounted file's first line is
// truthy. An unreadable file does not itself engage the halt, but the flag
// still can. Both sources are re-read on every check.
type KillSwitch struct {
	flag     func() string
	filePath func() string
}

// NewKillSwitch creates a kill switch over live configuration readers. Either
// source may be nil when not configured.
func NewKillSwitch(flag, filePath func() string) *KillSwitch {
	return &KillSwitch{flag: flag, filePath: filePath}
}

// State reports whether the switch is engaged and which source engaged it.
func (k *KillSwitch) State() (enabled bool, source string) {
	if k.flag != nil && truthy(k.flag()) {
		return true, "flag"
	}
	if k.filePath != nil {
		if path := strings.TrimSpace(k.filePath()); path != "" {
			if line, ok := firstLine(path); ok && truthy(line) {
				return true, "file"
			}
		}
	}
	return false, ""
}

// RequireOff raises a fatal, non-recoverable authorization error when the
// switch is engaged. Callers must let this terminate the call path before any
// network call; it is never an ordinary rejection value.
func (k *KillSwitch) RequireOff(operation string) error {
	enabled, source := k.State()
	if !enabled {
		return nil
	}
	return execerrors.NewAuthzError("authz", operation, "kill switch is engaged").
		WithReason("kill_switch_engaged").
		WithContext("source", source)
}

func firstLine(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		// Unreadable file fails safe: it cannot engage the halt by itself.
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return scanner.Text(), true
	}
	return "", false
}
