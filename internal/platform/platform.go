// Package platform declares the external collaborators a job talks to:
// a service locator for narrow facades, a session provider used by workers
// and a metadata session factory for configuration lookups.
//
// Jobs only ever see these interfaces. Local is an in-process implementation
// used by the host and by tests.
package platform

import (
	"context"
	"io"
)

// Kind names a facade category.
type Kind string

const (
	KindLookup       Kind = "lookup"
	KindResource     Kind = "resource"
	KindUser         Kind = "user"
	KindGroup        Kind = "group"
	KindOrganization Kind = "organization"
	KindForm         Kind = "form"
	KindProvisioning Kind = "provisioning"
)

// Handle is an opened facade. Whoever calls Locator.Service closes the handle.
type Handle interface {
	io.Closer
	Kind() Kind
}

type Locator interface {
	Service(kind Kind) (Handle, error)
}

// Session is an authenticated platform session owned by one worker.
type Session interface {
	ID() string
	User() string
}

type SessionProvider interface {
	Login(ctx context.Context) (Session, error)
	Logout(ctx context.Context, s Session) error
}

type Isolation int

const (
	IsolationDefault Isolation = iota
	IsolationReadCommitted
	IsolationSerializable
)

func (i Isolation) String() string {
	switch i {
	case IsolationReadCommitted:
		return "read-committed"
	case IsolationSerializable:
		return "serializable"
	default:
		return "default"
	}
}

type SessionOptions struct {
	Isolation Isolation
	ReadOnly  bool
	Label     string
}

// MetadataSession reads configuration documents outside the hot path.
type MetadataSession interface {
	io.Closer
	Options() SessionOptions
	Get(ctx context.Context, key string) (string, bool, error)
	Keys(ctx context.Context) ([]string, error)
}

type MetadataFactory interface {
	CreateSession(ctx context.Context, opt SessionOptions) (MetadataSession, error)
}
