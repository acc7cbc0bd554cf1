package job

import "sync"

// Token is a cooperative cancellation signal.
type Token interface {
	// Request asks for cancellation and reports whether it was accepted.
	Request() bool
	Requested() bool
}

// Signal is a job-owned Token. The zero value is not usable; use NewSignal.
type Signal struct {
	once sync.Once
	done chan struct{}
}

func NewSignal() *Signal { return &Signal{done: make(chan struct{})} }

// Request always accepts. Repeated calls are no-ops.
func (s *Signal) Request() bool {
	s.once.Do(func() { close(s.done) })
	return true
}

func (s *Signal) Requested() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed once cancellation has been requested.
func (s *Signal) Done() <-chan struct{} { return s.done }

// Composite ORs a host-owned token with a job-owned one. Requests go to both.
type Composite struct {
	Host  Token // may be nil
	Local Token
}

// Request sets the local token and forwards to the host. The host decides
// whether the request was accepted; without a host it always is.
func (c Composite) Request() bool {
	c.Local.Request()
	if c.Host == nil {
		return true
	}
	return c.Host.Request()
}

func (c Composite) Requested() bool {
	if c.Local.Requested() {
		return true
	}
	return c.Host != nil && c.Host.Requested()
}

type doner interface{ Done() <-chan struct{} }
