// Package rod is the go-rod rendering engine. Each session launches its own
// browser through the rod launcher and tears it down on Close.
package rod

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"mark2pdf/internal/config"
	"mark2pdf/internal/infra/logging"
	"mark2pdf/internal/render"
)

var errNoBrowser = errors.New("no system Chrome/Chromium found")

// Backend launches one rod-controlled browser per session.
type Backend struct {
	cfg config.Config
}

// New returns a rod backend. It never downloads a browser: render.chrome_path
// or a browser on PATH is required.
func New(cfg config.Config) *Backend {
	return &Backend{cfg: cfg}
}

func (b *Backend) Name() string { return config.EngineRod }

func (b *Backend) binary() (string, error) {
	if p := b.cfg.Render.ChromePath; p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("chrome binary: %w", err)
		}
		return p, nil
	}
	if p, ok := launcher.LookPath(); ok {
		return p, nil
	}
	return "", errNoBrowser
}

func (b *Backend) Launch(ctx context.Context) (render.Session, error) {
	bin, err := b.binary()
	if err != nil {
		return nil, render.NewError(render.StageLaunch, err)
	}

	launchCtx, cancel := context.WithTimeout(ctx, b.cfg.RenderTimeout())
	defer cancel()

	dir, err := profileDir(b.cfg.Render.UserDataDir)
	if err != nil {
		return nil, render.NewError(render.StageLaunch, err)
	}

	l := launcher.New().
		Context(launchCtx).
		Bin(bin).
		Headless(true).
		NoSandbox(b.cfg.Render.ChromeNoSandbox).
		UserDataDir(dir).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-extensions")

	s := &session{launcher: l, profileDir: dir, timeout: b.cfg.RenderTimeout()}

	u, err := l.Launch()
	if err != nil {
		s.release()
		return nil, render.NewError(render.StageLaunch, err)
	}

	s.browser = rod.New().ControlURL(u)
	if err := s.browser.Connect(); err != nil {
		s.release()
		return nil, render.NewError(render.StageLaunch, err)
	}

	s.page, err = s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = s.browser.Close()
		s.release()
		return nil, render.NewError(render.StageLaunch, err)
	}

	logging.Debug("Rod session started", "bin", bin, "profile_dir", dir)
	return s, nil
}

// profileDir creates a throwaway profile under base, or the system temp dir.
func profileDir(base string) (string, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o700); err != nil {
			return "", fmt.Errorf("cannot create profile base dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "rod-*")
	if err != nil {
		return "", fmt.Errorf("cannot create temp profile dir: %w", err)
	}
	return dir, nil
}

type session struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	profileDir string
	timeout    time.Duration

	cleanup sync.Once
}

func (s *session) step(ctx context.Context) (*rod.Page, context.CancelFunc) {
	stepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.page.Context(stepCtx), cancel
}

func (s *session) SetContent(ctx context.Context, html string) error {
	p, cancel := s.step(ctx)
	defer cancel()

	if err := p.SetDocumentContent(html); err != nil {
		return render.NewError(render.StageLoad, err)
	}
	if err := p.WaitLoad(); err != nil {
		return render.NewError(render.StageLoad, err)
	}
	if _, err := p.Eval(`() => document.fonts ? document.fonts.ready.then(() => true) : true`); err != nil {
		return render.NewError(render.StageLoad, err)
	}
	return nil
}

func (s *session) PrintPDF(ctx context.Context, layout render.Layout) ([]byte, error) {
	p, cancel := s.step(ctx)
	defer cancel()

	r, err := p.PDF(&proto.PagePrintToPDF{
		PaperWidth:      floatPtr(layout.PaperWidth),
		PaperHeight:     floatPtr(layout.PaperHeight),
		MarginTop:       floatPtr(layout.Margin),
		MarginBottom:    floatPtr(layout.Margin),
		MarginLeft:      floatPtr(layout.Margin),
		MarginRight:     floatPtr(layout.Margin),
		PrintBackground: layout.PrintBackground,
	})
	if err != nil {
		return nil, render.NewError(render.StageExport, err)
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, render.NewError(render.StageExport, fmt.Errorf("reading PDF stream: %w", err))
	}
	return buf, nil
}

// Close shuts the browser down over CDP within the step timeout. The process
// exits on its own, so only the profile is left to remove. On error the
// process is left for Kill.
func (s *session) Close() error {
	if err := s.browser.Timeout(s.timeout).Close(); err != nil {
		return err
	}
	s.cleanup.Do(s.removeProfile)
	return nil
}

// Kill terminates the browser process directly.
func (s *session) Kill() error {
	s.release()
	return nil
}

func (s *session) release() {
	s.cleanup.Do(func() {
		s.launcher.Kill()
		s.removeProfile()
	})
}

func (s *session) removeProfile() {
	if err := os.RemoveAll(s.profileDir); err != nil {
		logging.Warn("Failed to remove rod profile dir", "profile_dir", s.profileDir, "error", err)
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
