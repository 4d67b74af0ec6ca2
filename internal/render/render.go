// Package render defines the headless renderer contract shared by the chromedp
// and rod engines: launch a session, load a document, export a PDF, close.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mark2pdf/internal/domain"
)

// Layout holds print parameters in inches.
type Layout struct {
	PaperWidth  float64
	PaperHeight float64
	Margin      float64
	// PrintBackground keeps background colours of code blocks and tables.
	PrintBackground bool
}

// Backend launches renderer sessions. Implementations must make every
// session independent of the others unless they document a pooling policy.
type Backend interface {
	// Launch starts a session. On error the backend has already released
	// anything it acquired; the caller gets no session to close.
	Launch(ctx context.Context) (Session, error)
	// Name identifies the engine in logs and stats.
	Name() string
}

// Session is one acquired renderer. Close must be called exactly once.
type Session interface {
	// SetContent loads a complete HTML document and waits until it is ready.
	SetContent(ctx context.Context, html string) error
	// PrintPDF exports the loaded document.
	PrintPDF(ctx context.Context, layout Layout) ([]byte, error)
	// Close releases the session gracefully.
	Close() error
	// Kill forcibly tears the session down. It is the secondary cleanup when
	// Close fails and must be safe to call after a failed Close.
	Kill() error
}

// Stage names the step at which rendering failed.
type Stage string

const (
	StageLaunch Stage = "launch"
	StageLoad   Stage = "load"
	StageExport Stage = "export"
)

// Error is a rendering failure. It matches domain.ErrRender with errors.Is.
type Error struct {
	Stage Stage
	Err   error
}

// NewError wraps err with the stage it happened in.
func NewError(stage Stage, err error) *Error {
	return &Error{Stage: stage, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("render %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, domain.ErrRender) match any stage.
func (e *Error) Is(target error) bool {
	return target == domain.ErrRender
}

// StageOf returns the failing stage, or "" if err is not a render error.
func StageOf(err error) Stage {
	var re *Error
	if errors.As(err, &re) {
		return re.Stage
	}
	return ""
}

// Stats is a point-in-time view of a backend's capacity.
type Stats struct {
	Engine      string    `json:"engine"`
	Pooled      bool      `json:"pooled"`
	Capacity    int       `json:"capacity"`
	InUse       int       `json:"in_use"`
	Idle        int       `json:"idle"`
	Restarts    int       `json:"restarts"`
	LastRestart time.Time `json:"last_restart,omitzero"`
	ProfileDir  string    `json:"profile_dir,omitempty"`
}

// StatsReporter is implemented by backends that can describe their capacity.
type StatsReporter interface {
	Stats() Stats
}
