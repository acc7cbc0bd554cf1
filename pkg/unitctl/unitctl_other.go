//go:build !linux

package unitctl

import "context"

// Dial always fails off Linux.
func Dial(context.Context) (Controller, error) { return nil, ErrUnavailable }
