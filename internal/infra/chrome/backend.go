package chrome

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"mark2pdf/internal/config"
	"mark2pdf/internal/infra/logging"
	"mark2pdf/internal/render"
)

// Backend starts a dedicated headless Chrome with its own profile for every
// session. Nothing is shared between requests.
type Backend struct {
	cfg config.Config
}

// New returns a per-session chromedp backend.
func New(cfg config.Config) *Backend {
	return &Backend{cfg: cfg}
}

func (b *Backend) Name() string { return config.EngineChromedp }

// Launch starts the browser and blocks until it is attached, ctx is done or
// the render timeout passes. On failure everything started is torn down.
func (b *Backend) Launch(ctx context.Context) (render.Session, error) {
	if err := checkExecPath(b.cfg); err != nil {
		return nil, render.NewError(render.StageLaunch, err)
	}
	profileDir, err := createProfileDir(b.cfg)
	if err != nil {
		return nil, render.NewError(render.StageLaunch, err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(b.cfg, profileDir)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &session{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		profileDir:  profileDir,
		timeout:     b.cfg.RenderTimeout(),
	}

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case err = <-started:
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = context.DeadlineExceeded
	}
	if err != nil {
		_ = s.Kill()
		return nil, render.NewError(render.StageLaunch, err)
	}
	logging.Debug("Chrome session started", "profile_dir", profileDir)
	return s, nil
}

type session struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	profileDir  string
	timeout     time.Duration

	cleanup sync.Once
}

func (s *session) SetContent(ctx context.Context, html string) error {
	step, cancel := stepContext(s.tabCtx, ctx, s.timeout)
	defer cancel()
	if err := loadDocument(step, html); err != nil {
		return render.NewError(render.StageLoad, err)
	}
	return nil
}

func (s *session) PrintPDF(ctx context.Context, layout render.Layout) ([]byte, error) {
	step, cancel := stepContext(s.tabCtx, ctx, s.timeout)
	defer cancel()
	buf, err := printPDF(step, layout)
	if err != nil {
		return nil, render.NewError(render.StageExport, err)
	}
	return buf, nil
}

// Close asks the browser to shut down gracefully, then releases the process
// and profile directory.
func (s *session) Close() error {
	err := chromedp.Cancel(s.tabCtx)
	s.release()
	return err
}

// Kill drops the contexts without waiting on the browser.
func (s *session) Kill() error {
	s.release()
	return nil
}

func (s *session) release() {
	s.cleanup.Do(func() {
		s.tabCancel()
		s.allocCancel()
		if err := os.RemoveAll(s.profileDir); err != nil {
			logging.Warn("Failed to remove Chrome profile dir", "profile_dir", s.profileDir, "error", err)
		}
	})
}
