package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"mark2pdf/internal/config"
	"mark2pdf/internal/infra/logging"
	"mark2pdf/internal/render"
)

var (
	errPoolDisabled = errors.New("chrome pool disabled: render.pool_size must be > 0")
	errPoolClosed   = errors.New("chrome pool closed")
)

// Tab is one acquired browser tab. Ctx is a fresh chromedp context; the tab
// is created on its first Run and closed on Release.
type Tab struct {
	Ctx    context.Context
	cancel context.CancelFunc
	// gen is the browser generation the tab was opened on.
	gen int
}

// Pool shares one Chrome process between up to pool_size concurrent tabs.
// Every session gets a new tab, so no page state survives between requests.
// A tab that fails because the browser went away restarts the whole pool; the
// failing request is not retried.
type Pool struct {
	mu  sync.Mutex
	cfg config.Config
	sem chan struct{}

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	warm          bool

	profileDir  string
	closed      bool
	gen         int
	restarts    int
	lastRestart time.Time
}

// NewPool prepares the allocator. The browser itself starts on the first Launch.
func NewPool(cfg config.Config) (*Pool, error) {
	if cfg.Render.PoolSize <= 0 {
		return nil, errPoolDisabled
	}
	p := &Pool{cfg: cfg, sem: make(chan struct{}, cfg.Render.PoolSize)}
	if err := p.start(); err != nil {
		return nil, err
	}
	for i := 0; i < cfg.Render.PoolSize; i++ {
		p.sem <- struct{}{}
	}
	return p, nil
}

// start must be called with mu held or before the pool is shared.
func (p *Pool) start() error {
	dir, err := createProfileDir(p.cfg)
	if err != nil {
		return err
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(p.cfg, dir)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	p.profileDir = dir
	p.allocCancel = allocCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
	p.warm = false
	return nil
}

// stop must be called with mu held.
func (p *Pool) stop() {
	if p.browserCancel != nil {
		p.browserCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	if p.profileDir != "" {
		_ = os.RemoveAll(p.profileDir)
	}
	p.warm = false
}

func (p *Pool) Name() string { return config.EngineChromedp + "-pool" }

// ensureBrowser launches the shared browser if it is not running yet.
func (p *Pool) ensureBrowser(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPoolClosed
	}
	if p.warm {
		return nil
	}
	if err := checkExecPath(p.cfg); err != nil {
		return err
	}

	started := make(chan error, 1)
	browserCtx := p.browserCtx
	go func() { started <- chromedp.Run(browserCtx) }()

	timer := time.NewTimer(p.cfg.RenderTimeout())
	defer timer.Stop()

	select {
	case err := <-started:
		if err != nil {
			return fmt.Errorf("chrome pool warmup: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("chrome pool warmup: %w", ctx.Err())
	case <-timer.C:
		return fmt.Errorf("chrome pool warmup: %w", context.DeadlineExceeded)
	}
	p.warm = true
	return nil
}

// Acquire takes a free slot and returns a new tab context on the shared browser.
func (p *Pool) Acquire(ctx context.Context) (*Tab, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errPoolClosed
	}

	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.sem <- struct{}{}
		return nil, errPoolClosed
	}
	tabCtx, cancel := chromedp.NewContext(p.browserCtx)
	return &Tab{Ctx: tabCtx, cancel: cancel, gen: p.gen}, nil
}

// Release closes the tab and frees its slot. A renderErr showing the browser
// is gone triggers a restart, unless the tab belongs to a browser that has
// already been replaced.
func (p *Pool) Release(tab *Tab, renderErr error) {
	if tab == nil {
		return
	}
	if tab.cancel != nil {
		tab.cancel()
	}
	p.sem <- struct{}{}

	if !browserLost(renderErr) {
		return
	}
	restarted, err := p.restartGen(tab.gen)
	switch {
	case err != nil:
		logging.Error("Chrome pool restart failed", "error", err)
	case restarted:
		logging.Warn("Chrome session interrupted; pool restarted", "error", renderErr)
	}
}

// Restart replaces the browser and its profile directory. Tabs still open on
// the old browser fail and release normally.
func (p *Pool) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restartLocked()
}

// restartGen restarts only if gen is still the current browser generation.
func (p *Pool) restartGen(gen int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || gen != p.gen {
		return false, nil
	}
	if err := p.restartLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Pool) restartLocked() error {
	if p.closed {
		return errPoolClosed
	}
	p.stop()
	if err := p.start(); err != nil {
		return err
	}
	p.gen++
	p.restarts++
	p.lastRestart = time.Now()
	return nil
}

// Close shuts the browser down. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.stop()
}

// Stats reports slot usage for /ops/renderer/stats.
func (p *Pool) Stats() render.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := render.Stats{
		Engine:      p.Name(),
		Pooled:      !p.closed,
		Restarts:    p.restarts,
		LastRestart: p.lastRestart,
	}
	if p.closed {
		return st
	}
	st.Capacity = cap(p.sem)
	st.Idle = len(p.sem)
	st.InUse = st.Capacity - st.Idle
	st.ProfileDir = p.profileDir
	return st
}

// Launch implements render.Backend: warm the browser, take a slot and open a tab.
func (p *Pool) Launch(ctx context.Context) (render.Session, error) {
	if err := p.ensureBrowser(ctx); err != nil {
		return nil, render.NewError(render.StageLaunch, err)
	}
	tab, err := p.Acquire(ctx)
	if err != nil {
		return nil, render.NewError(render.StageLaunch, err)
	}
	if err := chromedp.Run(tab.Ctx); err != nil {
		p.Release(tab, err)
		return nil, render.NewError(render.StageLaunch, err)
	}
	return &tabSession{pool: p, tab: tab, timeout: p.cfg.RenderTimeout()}, nil
}

type tabSession struct {
	pool    *Pool
	tab     *Tab
	timeout time.Duration

	once sync.Once

	mu      sync.Mutex
	lastErr error
}

// fail records a step error; Close and Kill may read it from another goroutine.
func (s *tabSession) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// cause is the error handed to Release. When no step has failed yet (the
// request timed out mid-step) a browser-lost error from closing the tab
// stands in for it.
func (s *tabSession) cause(closeErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == nil && browserLost(closeErr) {
		return closeErr
	}
	return s.lastErr
}

func (s *tabSession) SetContent(ctx context.Context, html string) error {
	step, cancel := stepContext(s.tab.Ctx, ctx, s.timeout)
	defer cancel()
	if err := loadDocument(step, html); err != nil {
		s.fail(err)
		return render.NewError(render.StageLoad, err)
	}
	return nil
}

func (s *tabSession) PrintPDF(ctx context.Context, layout render.Layout) ([]byte, error) {
	step, cancel := stepContext(s.tab.Ctx, ctx, s.timeout)
	defer cancel()
	buf, err := printPDF(step, layout)
	if err != nil {
		s.fail(err)
		return nil, render.NewError(render.StageExport, err)
	}
	return buf, nil
}

// Close closes the tab target and returns the slot.
func (s *tabSession) Close() error {
	var err error
	s.once.Do(func() {
		err = chromedp.Cancel(s.tab.Ctx)
		s.pool.Release(s.tab, s.cause(err))
	})
	return err
}

func (s *tabSession) Kill() error {
	s.once.Do(func() {
		s.pool.Release(s.tab, s.cause(nil))
	})
	return nil
}
