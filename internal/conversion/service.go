// Package conversion runs the Markdown-to-output pipeline and picks between
// the client-print and server-render strategies.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mark2pdf/internal/config"
	"mark2pdf/internal/domain"
	"mark2pdf/internal/infra/logging"
	"mark2pdf/internal/pipeline"
	"mark2pdf/internal/render"
)

// pxPerInch is the CSS reference pixel density.
const pxPerInch = 96.0

var (
	// ErrRenderPanic is returned when the render goroutine panics.
	ErrRenderPanic = errors.New("renderer panicked")
	// ErrPDFTooLarge is returned when the rendered PDF exceeds limits.max_pdf_bytes.
	ErrPDFTooLarge = errors.New("PDF exceeds allowed size")
)

// Service converts validated requests. It holds no per-request state.
type Service struct {
	strategy     string
	backend      render.Backend
	composer     pipeline.Composer
	paperSizes   map[string]config.PaperSize
	defaultPaper string
	maxPDFBytes  int
}

// New builds a Service from cfg. The server strategy requires a backend.
func New(cfg config.Config, backend render.Backend) (*Service, error) {
	if cfg.Render.Strategy == config.StrategyServer && backend == nil {
		return nil, errors.New("conversion: server strategy needs a render backend")
	}
	return &Service{
		strategy:     cfg.Render.Strategy,
		backend:      backend,
		composer:     pipeline.Composer{PrintDelay: cfg.Render.PrintDelay},
		paperSizes:   cfg.Render.PaperSizes,
		defaultPaper: cfg.Render.DefaultPaper,
		maxPDFBytes:  cfg.Limits.MaxPDFBytes,
	}, nil
}

// Strategy is "server" or "client".
func (s *Service) Strategy() string { return s.strategy }

// Backend is nil for the client strategy.
func (s *Service) Backend() render.Backend { return s.backend }

// Convert sanitizes, transforms and composes the markdown, then either
// returns the print-ready document or renders it to PDF.
func (s *Service) Convert(ctx context.Context, req domain.ConversionRequest) (domain.ConversionResult, error) {
	fragment := pipeline.ToHTML(pipeline.Sanitize(req.Markdown))

	if s.strategy == config.StrategyClient {
		return domain.HTMLResult(s.composer.Compose(fragment, pipeline.ModeInteractive, req.Options)), nil
	}

	doc := s.composer.Compose(fragment, pipeline.ModeStatic, req.Options)
	pdf, err := s.render(ctx, doc, s.Layout(req.Options))
	if err != nil {
		return domain.ConversionResult{}, err
	}
	return domain.PDFResult(pdf), nil
}

// Layout maps page options to print parameters in inches.
func (s *Service) Layout(opts domain.ConversionOptions) render.Layout {
	paper, ok := s.paperSizes[strings.ToUpper(string(opts.PageSize))]
	if !ok {
		paper = s.paperSizes[s.defaultPaper]
	}
	if opts.Landscape() {
		paper.Width, paper.Height = paper.Height, paper.Width
	}
	return render.Layout{
		PaperWidth:      paper.Width,
		PaperHeight:     paper.Height,
		Margin:          float64(opts.MarginPx) / pxPerInch,
		PrintBackground: true,
	}
}

type outcome struct {
	pdf []byte
	err error
}

// render runs the backend in its own goroutine and waits for it or for ctx.
// On every path the lease is released before returning.
func (s *Service) render(ctx context.Context, doc string, layout render.Layout) ([]byte, error) {
	start := time.Now()
	l := newLease(s.backend)
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("Renderer panicked", "panic", fmt.Sprint(r))
				done <- outcome{err: fmt.Errorf("%w: %v", ErrRenderPanic, r)}
			}
		}()
		pdf, err := renderWith(ctx, l, doc, layout)
		done <- outcome{pdf: pdf, err: err}
	}()

	select {
	case o := <-done:
		l.release()
		if o.err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, o.err)
		}
		if o.err != nil {
			logging.Warn("PDF rendering failed", "engine", s.backend.Name(), "stage", string(render.StageOf(o.err)), "error", o.err)
			return nil, o.err
		}
		if s.maxPDFBytes > 0 && len(o.pdf) > s.maxPDFBytes {
			return nil, render.NewError(render.StageExport, fmt.Errorf("%w (%d bytes)", ErrPDFTooLarge, len(o.pdf)))
		}
		logging.Debug("PDF rendered", "engine", s.backend.Name(), "bytes", len(o.pdf), "duration_ms", time.Since(start).Milliseconds())
		return o.pdf, nil
	case <-ctx.Done():
		l.release()
		logging.Warn("PDF rendering abandoned", "engine", s.backend.Name(), "error", ctx.Err())
		return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
	}
}

func renderWith(ctx context.Context, l *lease, doc string, layout render.Layout) ([]byte, error) {
	sess, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.SetContent(ctx, doc); err != nil {
		return nil, err
	}
	return sess.PrintPDF(ctx, layout)
}
