package job

import (
	"fmt"
	"strings"

	"jobhost/internal/errors"
	"jobhost/internal/task/attr"
)

// Kind classifies a declared task error.
type Kind int

const (
	KindGeneral Kind = iota
	KindConfiguration
	KindAttributeMissing
	KindAttributeEmpty
	KindDependencyNotFound
	KindUnhandled
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAttributeMissing:
		return "attribute_missing"
	case KindAttributeEmpty:
		return "attribute_empty"
	case KindDependencyNotFound:
		return "dependency_not_found"
	case KindUnhandled:
		return "unhandled"
	case KindNotFound:
		return "not_found"
	default:
		return "general"
	}
}

// Configuration reports whether k aborts a job before any work starts.
func (k Kind) Configuration() bool {
	return k == KindConfiguration || k == KindAttributeMissing || k == KindAttributeEmpty
}

// ErrLinkage marks a missing collaborator: an unregistered job kind, a facade
// the platform does not provide, a constructor that is not wired. Returning or
// panicking with an error wrapping ErrLinkage yields KindDependencyNotFound.
var ErrLinkage = errors.New("dependency not resolved")

// Linkage returns an error wrapping ErrLinkage for the named dependency.
func Linkage(dep string) error {
	return errors.Wrapf(ErrLinkage, "%s", dep)
}

// Error is a declared task error.
type Error struct {
	Kind      Kind
	Op        string
	Attribute string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Attribute != "" {
		fmt.Fprintf(&b, " [%s]", e.Attribute)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsDeclared reports whether err is or wraps a *Error.
func IsDeclared(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindGeneral when there is none.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindGeneral
}

func NotFound(op, what string) error {
	return &Error{Kind: KindNotFound, Op: op, Err: errors.Wrapf(errors.ErrNotFound, "%s", what)}
}

func General(op string, err error) error {
	return &Error{Kind: KindGeneral, Op: op, Err: err}
}

func Unhandled(op string, err error) error {
	return &Error{Kind: KindUnhandled, Op: op, Err: err}
}

// configuration maps a parameter validation failure onto its kind.
func configuration(op string, err error) error {
	te := &Error{Kind: KindConfiguration, Op: op, Err: err}
	var ve *attr.ValidationError
	if errors.As(err, &ve) {
		te.Attribute = ve.Attribute
		switch {
		case errors.Is(err, attr.ErrRequired):
			te.Kind = KindAttributeMissing
		case errors.Is(err, attr.ErrEmpty):
			te.Kind = KindAttributeEmpty
		}
	}
	return te
}

// classify keeps declared errors and turns linkage faults into
// KindDependencyNotFound. Anything else passes through unchanged.
func classify(op string, err error) error {
	if err == nil || IsDeclared(err) {
		return err
	}
	if errors.Is(err, ErrLinkage) {
		return &Error{Kind: KindDependencyNotFound, Op: op, Err: err}
	}
	return err
}

// declare wraps a non-declared error so callers always receive a *Error.
func declare(op string, err error) error {
	if err == nil || IsDeclared(err) {
		return err
	}
	return Unhandled(op, err)
}

// recovered converts a panic value from a phase into an error.
func recovered(op string, r any, stack []byte) error {
	if err, ok := r.(error); ok && errors.Is(err, ErrLinkage) {
		return &Error{Kind: KindDependencyNotFound, Op: op, Err: err}
	}
	var cause error
	if err, ok := r.(error); ok {
		cause = errors.Wrap(err, "panic")
	} else {
		cause = errors.Newf("panic: %v", r)
	}
	if len(stack) > 0 {
		cause = errors.WithDetail(cause, string(stack))
	}
	return Unhandled(op, cause)
}
