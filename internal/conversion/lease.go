package conversion

import (
	"context"
	"errors"
	"sync"

	"mark2pdf/internal/infra/logging"
	"mark2pdf/internal/render"
)

var errLeaseReleased = errors.New("renderer lease already released")

// lease owns at most one renderer session and closes it exactly once,
// whichever of the render goroutine and the request handler gets there first.
type lease struct {
	backend render.Backend

	mu       sync.Mutex
	session  render.Session
	released bool
}

func newLease(b render.Backend) *lease {
	return &lease{backend: b}
}

// acquire launches a session. A session that arrives after release is closed
// on the spot and never handed out.
func (l *lease) acquire(ctx context.Context) (render.Session, error) {
	s, err := l.backend.Launch(ctx)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		closeSession(s)
		return nil, errLeaseReleased
	}
	l.session = s
	l.mu.Unlock()
	return s, nil
}

// release closes the held session, if any. Later calls are no-ops.
func (l *lease) release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	s := l.session
	l.session = nil
	l.mu.Unlock()

	if s != nil {
		closeSession(s)
	}
}

// closeSession never returns an error: a failed Close falls back to Kill and
// both outcomes are only logged.
func closeSession(s render.Session) {
	err := s.Close()
	if err == nil {
		return
	}
	logging.Warn("Renderer close failed; killing session", "error", err)
	if kerr := s.Kill(); kerr != nil {
		logging.Error("Renderer kill failed", "error", kerr)
	}
}
