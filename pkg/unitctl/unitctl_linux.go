//go:build linux

package unitctl

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"

	"jobhost/internal/errors"
)

type busController struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// Dial connects to the system bus.
func Dial(ctx context.Context) (Controller, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, errors.CombineErrors(ErrUnavailable, errors.Wrap(err, "connect to systemd"))
	}
	return &busController{conn: conn}, nil
}

func (c *busController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

func (c *busController) get() (*dbus.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil, errors.Wrap(errors.ErrClosed, "systemd connection")
	}
	return c.conn, nil
}

func (c *busController) Status(ctx context.Context, unit string) (Status, error) {
	conn, err := c.get()
	if err != nil {
		return Status{}, err
	}
	name := UnitName(unit)
	notFound := Status{Unit: name, Active: "unknown", SubState: "not-found", LoadState: "not-found"}

	units, err := conn.ListUnitsByPatternsContext(ctx, nil, []string{name})
	if err == nil && len(units) > 0 {
		u := units[0]
		for _, x := range units {
			if x.Name == name {
				u = x
				break
			}
		}
		if u.LoadState == "not-found" {
			return notFound, nil
		}
		st := Status{Unit: name, Active: u.ActiveState, SubState: u.SubState, LoadState: u.LoadState, Description: u.Description}
		if !st.IsActive() {
			if props, perr := conn.GetUnitPropertiesContext(ctx, name); perr == nil {
				st.StateChange = timestamp(props, "StateChangeTimestamp")
			}
		}
		return st, nil
	}

	props, err := conn.GetUnitPropertiesContext(ctx, name)
	if err != nil {
		if isNoSuchUnit(err) {
			return notFound, nil
		}
		return Status{}, errors.Wrapf(err, "status of %s", name)
	}
	st := Status{
		Unit:        name,
		Active:      stringProp(props, "ActiveState"),
		SubState:    stringProp(props, "SubState"),
		LoadState:   stringProp(props, "LoadState"),
		Description: stringProp(props, "Description"),
		StateChange: timestamp(props, "StateChangeTimestamp"),
	}
	if !st.Found() {
		return notFound, nil
	}
	return st, nil
}

func (c *busController) Run(ctx context.Context, a Action, unit string) (string, error) {
	conn, err := c.get()
	if err != nil {
		return "", err
	}
	name := UnitName(unit)
	done := make(chan string, 1)
	switch a {
	case ActionStart:
		_, err = conn.StartUnitContext(ctx, name, "replace", done)
	case ActionStop:
		_, err = conn.StopUnitContext(ctx, name, "replace", done)
	case ActionRestart:
		_, err = conn.RestartUnitContext(ctx, name, "replace", done)
	default:
		return "", errors.Newf("action %q does not change a unit", a)
	}
	if err != nil {
		if isNoSuchUnit(err) {
			return "", errors.Wrapf(ErrNoSuchUnit, "%s", name)
		}
		return "", errors.Wrapf(err, "%s %s", a, name)
	}
	select {
	case res := <-done:
		if res != "done" {
			return res, errors.Newf("%s %s: systemd job %s", a, name, res)
		}
		return res, nil
	case <-ctx.Done():
		return "", errors.Wrapf(ctx.Err(), "%s %s", a, name)
	}
}

func stringProp(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return s
}

// timestamp reads a systemd usec property.
func timestamp(props map[string]interface{}, key string) time.Time {
	var usec uint64
	switch v := props[key].(type) {
	case uint64:
		usec = v
	case string:
		usec, _ = strconv.ParseUint(v, 10, 64)
	}
	if usec == 0 {
		return time.Time{}
	}
	return time.UnixMicro(int64(usec))
}
