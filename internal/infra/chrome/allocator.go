// Package chrome renders documents with headless Chrome via chromedp. Backend
// starts one browser per session; Pool keeps a single browser and hands out
// fresh tabs.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"mark2pdf/internal/config"
	"mark2pdf/internal/render"
)

// settleDelay gives webfonts and syntax-highlight styles a moment after the
// document reports ready.
const settleDelay = 200 * time.Millisecond

func allocatorOptions(cfg config.Config, profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		// Software rendering only; minimal containers have no usable GPU.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
	)
	if cfg.Render.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.Render.ChromePath))
	}
	if cfg.Render.ChromeNoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

// createProfileDir makes a throwaway Chrome profile under render.user_data_dir,
// or under the system temp dir when unset.
func createProfileDir(cfg config.Config) (string, error) {
	base := cfg.Render.UserDataDir
	if base != "" {
		if err := os.MkdirAll(base, 0o700); err != nil {
			return "", fmt.Errorf("cannot create profile base dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "chromedata-*")
	if err != nil {
		return "", fmt.Errorf("cannot create temp profile dir: %w", err)
	}
	return dir, nil
}

// checkExecPath fails fast on a configured binary that does not exist, so a
// misconfigured deployment gets a launch error instead of an allocator timeout.
func checkExecPath(cfg config.Config) error {
	if cfg.Render.ChromePath == "" {
		return nil
	}
	if _, err := os.Stat(cfg.Render.ChromePath); err != nil {
		return fmt.Errorf("chrome binary: %w", err)
	}
	return nil
}

// stepContext bounds one chromedp step by both the session-wide tab context
// and the caller's ctx.
func stepContext(tab, ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	step, cancel := context.WithTimeout(tab, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return step, func() {
		stop()
		cancel()
	}
}

// loadDocument replaces the blank page's content with html and waits until it
// is laid out.
func loadDocument(ctx context.Context, html string) error {
	return chromedp.Run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frame, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frame.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitForRenderReady(ctx, settleDelay)
		}),
	)
}

// waitForRenderReady polls until the document and its fonts are loaded, then
// sleeps for settle.
func waitForRenderReady(ctx context.Context, settle time.Duration) error {
	var ready bool
	return chromedp.Run(ctx,
		chromedp.Poll(
			`document.readyState === "complete" && (!document.fonts || document.fonts.status === "loaded")`,
			&ready,
			chromedp.WithPollingInterval(50*time.Millisecond),
		),
		chromedp.Sleep(settle),
	)
}

func printPDF(ctx context.Context, layout render.Layout) ([]byte, error) {
	var buf []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, _, err = page.PrintToPDF().
			WithPrintBackground(layout.PrintBackground).
			WithPreferCSSPageSize(false).
			WithPaperWidth(layout.PaperWidth).
			WithPaperHeight(layout.PaperHeight).
			WithMarginTop(layout.Margin).
			WithMarginBottom(layout.Margin).
			WithMarginLeft(layout.Margin).
			WithMarginRight(layout.Margin).
			Do(ctx)
		return err
	}))
	return buf, err
}

// IsSessionInterrupted reports errors that mean the tab or browser went away
// underneath a render.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return browserLost(err)
}

// browserLost matches the subset of interruptions that leave the browser
// itself unusable.
func browserLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, chromedp.ErrInvalidContext) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"target closed", "session closed", "websocket", "browser has disconnected", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
