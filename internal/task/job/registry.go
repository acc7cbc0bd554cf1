package job

import (
	"sort"
	"strings"
	"sync"

	"jobhost/internal/errors"
)

// Constructor builds a fresh Handler for one invocation.
type Constructor func() Handler

// Registry maps job kinds to constructors. Kinds are resolved when a job is
// registered with the host, so an unknown kind fails at startup.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{kinds: map[string]Constructor{}}
}

func normKind(kind string) string { return strings.ToLower(strings.TrimSpace(kind)) }

func (r *Registry) Register(kind string, c Constructor) error {
	k := normKind(kind)
	if k == "" {
		return errors.New("job kind must not be empty")
	}
	if c == nil {
		return errors.Newf("job kind %q: nil constructor", k)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.kinds[k]; dup {
		return errors.Newf("job kind %q already registered", k)
	}
	r.kinds[k] = c
	return nil
}

// MustRegister is Register that panics. For static wiring only.
func (r *Registry) MustRegister(kind string, c Constructor) {
	if err := r.Register(kind, c); err != nil {
		panic(err)
	}
}

// Resolve returns the constructor for kind. Unknown kinds yield a
// KindConfiguration error wrapping ErrLinkage.
func (r *Registry) Resolve(kind string) (Constructor, error) {
	k := normKind(kind)
	r.mu.RLock()
	c, ok := r.kinds[k]
	r.mu.RUnlock()
	if !ok {
		err := errors.WithHintf(Linkage("job kind "+k), "registered kinds: %s", strings.Join(r.Kinds(), ", "))
		return nil, &Error{Kind: KindConfiguration, Op: "resolve", Err: err}
	}
	return c, nil
}

func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
