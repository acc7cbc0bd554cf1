package platform

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"jobhost/internal/errors"
	"jobhost/pkg/logx"
)

var (
	ErrSessionLimit   = errors.New("session limit reached")
	ErrUnknownSession = errors.New("unknown session")
	ErrUnknownFacade  = errors.New("unknown facade")
)

// LocalConfig configures the in-process platform.
type LocalConfig struct {
	User string
	// MaxSessions bounds concurrently logged-in sessions. 0 means unlimited.
	MaxSessions int
	// Facades restricts the kinds Service hands out. Empty allows every kind.
	Facades  []Kind
	Metadata map[string]string
}

// Stats is a point-in-time view of Local.
type Stats struct {
	ActiveSessions int
	OpenHandles    int
	Logins         uint64
	Logouts        uint64
}

// Local implements Locator, SessionProvider and MetadataFactory in memory.
type Local struct {
	log logx.Logger

	mu       sync.Mutex
	cfg      LocalConfig
	allowed  map[Kind]struct{}
	sessions map[string]*localSession
	metadata map[string]string
	handles  int
	logins   uint64
	logouts  uint64
	closed   bool
}

func NewLocal(cfg LocalConfig, log logx.Logger) *Local {
	l := &Local{
		log:      log.With(logx.String("comp", "platform")),
		sessions: map[string]*localSession{},
	}
	l.Apply(cfg)
	return l
}

// Apply swaps limits, facade allow-list and metadata. Live sessions survive.
func (l *Local) Apply(cfg LocalConfig) {
	if strings.TrimSpace(cfg.User) == "" {
		cfg.User = "jobhost"
	}
	allowed := map[Kind]struct{}{}
	for _, k := range cfg.Facades {
		allowed[Kind(strings.ToLower(strings.TrimSpace(string(k))))] = struct{}{}
	}
	md := make(map[string]string, len(cfg.Metadata))
	for k, v := range cfg.Metadata {
		md[k] = v
	}

	l.mu.Lock()
	l.cfg = cfg
	l.allowed = allowed
	l.metadata = md
	l.mu.Unlock()
}

// SetMetadata commits one metadata value.
func (l *Local) SetMetadata(key, value string) {
	l.mu.Lock()
	l.metadata[key] = value
	l.mu.Unlock()
}

func (l *Local) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		ActiveSessions: len(l.sessions),
		OpenHandles:    l.handles,
		Logins:         l.logins,
		Logouts:        l.logouts,
	}
}

// Close rejects further logins and facade requests. Sessions still logged in
// are reported and dropped.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	leaked := len(l.sessions)
	l.sessions = map[string]*localSession{}
	l.mu.Unlock()

	if leaked > 0 {
		l.log.Warn("platform closed with active sessions", logx.Int("sessions", leaked))
	}
	return nil
}

// ---- SessionProvider ----

type localSession struct {
	id   string
	user string
}

func (s *localSession) ID() string   { return s.id }
func (s *localSession) User() string { return s.user }

func (l *Local) Login(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.Wrap(errors.ErrClosed, "login")
	}
	if l.cfg.MaxSessions > 0 && len(l.sessions) >= l.cfg.MaxSessions {
		return nil, errors.WithHintf(ErrSessionLimit, "platform.max_sessions is %d", l.cfg.MaxSessions)
	}
	s := &localSession{id: uuid.NewString(), user: l.cfg.User}
	l.sessions[s.id] = s
	l.logins++
	l.log.Trace("session opened", logx.String("session", s.id))
	return s, nil
}

func (l *Local) Logout(ctx context.Context, s Session) error {
	if s == nil {
		return errors.Wrap(ErrUnknownSession, "logout nil session")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sessions[s.ID()]; !ok {
		return errors.Wrapf(ErrUnknownSession, "logout %s", s.ID())
	}
	delete(l.sessions, s.ID())
	l.logouts++
	l.log.Trace("session closed", logx.String("session", s.ID()))
	return nil
}

// ---- Locator ----

type localHandle struct {
	kind  Kind
	owner *Local
	once  sync.Once
}

func (h *localHandle) Kind() Kind { return h.kind }

func (h *localHandle) Close() error {
	h.once.Do(func() {
		h.owner.mu.Lock()
		h.owner.handles--
		h.owner.mu.Unlock()
	})
	return nil
}

func (l *Local) Service(kind Kind) (Handle, error) {
	kind = Kind(strings.ToLower(strings.TrimSpace(string(kind))))
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.Wrap(errors.ErrClosed, "service")
	}
	if !knownKind(kind) {
		return nil, errors.Wrapf(ErrUnknownFacade, "%q", kind)
	}
	if len(l.allowed) > 0 {
		if _, ok := l.allowed[kind]; !ok {
			return nil, errors.Wrapf(errors.ErrNotFound, "facade %q not enabled", kind)
		}
	}
	l.handles++
	return &localHandle{kind: kind, owner: l}, nil
}

func knownKind(k Kind) bool {
	switch k {
	case KindLookup, KindResource, KindUser, KindGroup, KindOrganization, KindForm, KindProvisioning:
		return true
	default:
		return false
	}
}

// ---- MetadataFactory ----

type metaSession struct {
	owner    *Local
	opt      SessionOptions
	snapshot map[string]string // serializable sessions read a fixed view

	mu     sync.Mutex
	closed bool
}

func (l *Local) CreateSession(ctx context.Context, opt SessionOptions) (MetadataSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.Wrap(errors.ErrClosed, "metadata session")
	}
	ms := &metaSession{owner: l, opt: opt}
	if opt.Isolation == IsolationSerializable {
		ms.snapshot = make(map[string]string, len(l.metadata))
		for k, v := range l.metadata {
			ms.snapshot[k] = v
		}
	}
	return ms, nil
}

func (m *metaSession) Options() SessionOptions { return m.opt }

func (m *metaSession) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *metaSession) view() (map[string]string, func(), error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, nil, errors.Wrap(errors.ErrClosed, "metadata session")
	}
	if m.snapshot != nil {
		return m.snapshot, func() {}, nil
	}
	m.owner.mu.Lock()
	return m.owner.metadata, m.owner.mu.Unlock, nil
}

func (m *metaSession) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	md, done, err := m.view()
	if err != nil {
		return "", false, err
	}
	defer done()
	v, ok := md[key]
	return v, ok, nil
}

func (m *metaSession) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	md, done, err := m.view()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	done()
	sort.Strings(keys)
	return keys, nil
}
