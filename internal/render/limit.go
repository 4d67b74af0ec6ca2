package render

import (
	"context"
	"sync"
)

// Limited caps the number of sessions a backend may have open at once.
// Launch blocks until a slot frees up or ctx is done.
type Limited struct {
	backend Backend
	sem     chan struct{}
}

// Limit wraps b so that at most n sessions run concurrently. n < 1 means 1.
func Limit(b Backend, n int) *Limited {
	if n < 1 {
		n = 1
	}
	return &Limited{backend: b, sem: make(chan struct{}, n)}
}

func (l *Limited) Name() string { return l.backend.Name() }

// Capacity is the configured slot count.
func (l *Limited) Capacity() int { return cap(l.sem) }

// InUse is the number of sessions currently holding a slot.
func (l *Limited) InUse() int { return len(l.sem) }

// Unwrap exposes the wrapped backend, e.g. for stats.
func (l *Limited) Unwrap() Backend { return l.backend }

// Stats reports the wrapped backend's view when it has one, otherwise the
// slot usage of the limiter itself.
func (l *Limited) Stats() Stats {
	if r, ok := l.backend.(StatsReporter); ok {
		return r.Stats()
	}
	return Stats{
		Engine:   l.backend.Name(),
		Capacity: l.Capacity(),
		InUse:    l.InUse(),
		Idle:     l.Capacity() - l.InUse(),
	}
}

func (l *Limited) Launch(ctx context.Context) (Session, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s, err := l.backend.Launch(ctx)
	if err != nil {
		<-l.sem
		return nil, err
	}
	return &limitedSession{Session: s, release: func() { <-l.sem }}, nil
}

type limitedSession struct {
	Session
	once    sync.Once
	release func()
}

func (s *limitedSession) Close() error {
	err := s.Session.Close()
	s.once.Do(s.release)
	return err
}

func (s *limitedSession) Kill() error {
	err := s.Session.Kill()
	s.once.Do(s.release)
	return err
}
