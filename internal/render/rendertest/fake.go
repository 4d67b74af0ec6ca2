// Package rendertest provides an in-memory render.Backend for tests.
package rendertest

import (
	"context"
	"sync"
	"sync/atomic"

	"mark2pdf/internal/render"
)

// FakePDF is what a Backend returns when PDF is unset.
var FakePDF = []byte("%PDF-1.7\n%fake\n%%EOF\n")

// Backend records every session it hands out. The zero value renders FakePDF.
type Backend struct {
	PDF []byte

	LaunchErr error
	LoadErr   error
	ExportErr error
	CloseErr  error

	// Block makes SetContent wait until ctx is done.
	Block bool
	// Hold, when non-nil, makes SetContent ignore ctx and wait until Hold is
	// closed, like a browser that does not honour cancellation.
	Hold chan struct{}
	// Panic is raised from PrintPDF when set.
	Panic any

	launches atomic.Int32
	closes   atomic.Int32
	kills    atomic.Int32

	mu       sync.Mutex
	Layouts  []render.Layout
	Contents []string
}

func (b *Backend) Name() string { return "fake" }

func (b *Backend) Launch(ctx context.Context) (render.Session, error) {
	if b.LaunchErr != nil {
		return nil, b.LaunchErr
	}
	b.launches.Add(1)
	return &session{b: b}, nil
}

// Launches counts successful launches.
func (b *Backend) Launches() int { return int(b.launches.Load()) }

// Closes counts Close calls across all sessions.
func (b *Backend) Closes() int { return int(b.closes.Load()) }

// Kills counts Kill calls across all sessions.
func (b *Backend) Kills() int { return int(b.kills.Load()) }

type session struct {
	b *Backend
}

func (s *session) SetContent(ctx context.Context, html string) error {
	s.b.mu.Lock()
	s.b.Contents = append(s.b.Contents, html)
	s.b.mu.Unlock()

	if s.b.Hold != nil {
		<-s.b.Hold
	}
	if s.b.Block {
		<-ctx.Done()
		return render.NewError(render.StageLoad, ctx.Err())
	}
	if s.b.LoadErr != nil {
		return s.b.LoadErr
	}
	return nil
}

func (s *session) PrintPDF(ctx context.Context, layout render.Layout) ([]byte, error) {
	if s.b.Panic != nil {
		panic(s.b.Panic)
	}
	s.b.mu.Lock()
	s.b.Layouts = append(s.b.Layouts, layout)
	s.b.mu.Unlock()

	if s.b.ExportErr != nil {
		return nil, s.b.ExportErr
	}
	if s.b.PDF != nil {
		return s.b.PDF, nil
	}
	return FakePDF, nil
}

func (s *session) Close() error {
	s.b.closes.Add(1)
	return s.b.CloseErr
}

func (s *session) Kill() error {
	s.b.kills.Add(1)
	return nil
}
