// Package attr declares job parameters and validates parameter maps against them.
package attr

import (
	"strings"

	"jobhost/internal/errors"
)

var (
	// ErrRequired is reported when a mandatory attribute is absent.
	ErrRequired = errors.New("attribute required")
	// ErrEmpty is reported when a mandatory attribute is present but empty.
	ErrEmpty = errors.New("attribute empty")
	// ErrInvalidSpec is reported when a Spec is declared without an id.
	ErrInvalidSpec = errors.New("attribute id must not be empty")
)

// Spec declares a named configuration parameter.
// Specs are immutable and compare equal by ID alone.
type Spec struct {
	id        string
	mandatory bool
	def       *string
}

func newSpec(id string, mandatory bool, def *string) (Spec, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Spec{}, ErrInvalidSpec
	}
	return Spec{id: id, mandatory: mandatory, def: def}, nil
}

// Mandatory declares a parameter that must carry a non-empty value.
func Mandatory(id string) (Spec, error) { return newSpec(id, true, nil) }

// Optional declares a parameter that falls back to def when missing or empty.
func Optional(id, def string) (Spec, error) { return newSpec(id, false, &def) }

// OptionalNoDefault declares a parameter that falls back to "".
func OptionalNoDefault(id string) (Spec, error) { return newSpec(id, false, nil) }

// Must panics if err is non-nil. Intended for package-level spec tables.
func Must(s Spec, err error) Spec {
	if err != nil {
		panic(err)
	}
	return s
}

func (s Spec) ID() string        { return s.id }
func (s Spec) IsMandatory() bool { return s.mandatory }
func (s Spec) IsOptional() bool  { return !s.mandatory }

// Default returns the declared default and whether one was declared.
func (s Spec) Default() (string, bool) {
	if s.def == nil {
		return "", false
	}
	return *s.def, true
}

// Equal reports whether both specs declare the same parameter id.
func (s Spec) Equal(o Spec) bool { return s.id == o.id }

func (s Spec) fallback() string {
	if s.def == nil {
		return ""
	}
	return *s.def
}

// ValidationError names the owner and the offending attribute.
type ValidationError struct {
	Owner     string
	Attribute string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Owner == "" {
		return e.Err.Error() + ": " + e.Attribute
	}
	return e.Owner + ": " + e.Err.Error() + ": " + e.Attribute
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate fills and checks params against specs in declaration order.
//
// Missing or empty optional attributes get their default (or ""); a missing
// mandatory attribute yields ErrRequired and an empty one ErrEmpty. params is
// modified in place and must not be nil.
func Validate(owner string, specs []Spec, params Map) error {
	for _, s := range specs {
		v, ok := params[s.id]
		switch {
		case !ok && s.mandatory:
			return &ValidationError{Owner: owner, Attribute: s.id, Err: ErrRequired}
		case !ok:
			params[s.id] = s.fallback()
		case strings.TrimSpace(v) == "" && s.mandatory:
			return &ValidationError{Owner: owner, Attribute: s.id, Err: ErrEmpty}
		case strings.TrimSpace(v) == "":
			params[s.id] = s.fallback()
		}
	}
	return nil
}
