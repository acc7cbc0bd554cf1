// Package unitctl drives systemd units over D-Bus.
//
// A Controller is short lived: dial it, run a few operations, close it. On
// platforms without systemd Dial returns ErrUnavailable.
package unitctl

import (
	"context"
	"strings"
	"time"

	"jobhost/internal/errors"
)

var (
	ErrUnavailable = errors.New("systemd is not available")
	ErrNoSuchUnit  = errors.New("no such unit")
)

// Action is an operation on a unit.
type Action string

const (
	ActionCheck   Action = "check"
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

// ParseAction accepts the action names case-insensitively; empty means check.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ActionCheck, nil
	case ActionCheck, ActionStart, ActionStop, ActionRestart:
		return a, nil
	default:
		return "", errors.WithHint(errors.Newf("unknown unit action %q", s), "use check, start, stop or restart")
	}
}

// WantsActive reports whether a successful a leaves the unit active.
func (a Action) WantsActive() bool { return a != ActionStop }

// Status is the state of one unit.
type Status struct {
	Unit        string
	Active      string // active, inactive, failed, ...
	SubState    string // running, dead, ...
	LoadState   string // loaded, not-found, ...
	Description string
	StateChange time.Time
}

func (s Status) IsActive() bool { return s.Active == "active" }
func (s Status) Found() bool    { return s.LoadState != "not-found" }

// Controller is the subset of systemd the host uses.
type Controller interface {
	Status(ctx context.Context, unit string) (Status, error)
	// Run performs a start, stop or restart and waits for the systemd job
	// to finish. It returns the systemd job result ("done" on success).
	Run(ctx context.Context, a Action, unit string) (string, error)
	Close() error
}

// Dialer opens a Controller.
type Dialer func(ctx context.Context) (Controller, error)

// UnitName appends ".service" when name carries no unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		switch name[i+1:] {
		case "service", "socket", "timer", "target", "mount", "path", "slice", "scope", "device", "swap", "automount":
			return name
		}
	}
	return name + ".service"
}

// isNoSuchUnit matches systemd's org.freedesktop.systemd1.NoSuchUnit.
func isNoSuchUnit(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}
