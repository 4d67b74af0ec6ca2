// Package handlers implements the conversion endpoint and its companion routes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"mark2pdf/internal/config"
	"mark2pdf/internal/domain"
	"mark2pdf/internal/infra/logging"
	"mark2pdf/internal/render"
)

// Response messages.
const (
	MsgInvalidMarkdown  = "Invalid or missing markdown content."
	MsgTimeout          = "Request timed out."
	MsgRenderFailed     = "Failed to generate PDF."
	MsgServerError      = "Server error during PDF generation. Please try again later."
	MsgMethodNotAllowed = "Method not allowed"
	MsgHTMLGenerated    = "HTML content generated successfully"
	Banner              = "PDF Converter API is running"
	PDFFilename         = "document.pdf"
)

// Converter runs the conversion pipeline.
type Converter interface {
	Convert(ctx context.Context, req domain.ConversionRequest) (domain.ConversionResult, error)
}

// Handler serves /api/generate-pdf.
type Handler struct {
	conv       Converter
	backend    render.Backend
	strategy   string
	timeout    time.Duration
	maxBytes   int
	production bool
}

// New wires a Handler. backend may be nil under the client strategy.
func New(conv Converter, backend render.Backend, cfg config.Config) *Handler {
	return &Handler{
		conv:       conv,
		backend:    backend,
		strategy:   cfg.Render.Strategy,
		timeout:    cfg.Server.RequestTimeout,
		maxBytes:   cfg.Limits.MaxMarkdownBytes,
		production: cfg.Production(),
	}
}

type generateRequest struct {
	Markdown json.RawMessage `json:"markdown"`
	Options  json.RawMessage `json:"options"`
}

// parseRequest decodes and validates the body. Option values never fail the
// request; anything unusable falls back to defaults.
func parseRequest(body []byte, maxBytes int) (domain.ConversionRequest, error) {
	var in generateRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return domain.ConversionRequest{}, domain.ErrMissingMarkdown
	}

	var md string
	if len(in.Markdown) == 0 || json.Unmarshal(in.Markdown, &md) != nil {
		return domain.ConversionRequest{}, domain.ErrMissingMarkdown
	}

	var raw map[string]any
	if len(in.Options) > 0 {
		_ = json.Unmarshal(in.Options, &raw)
	}

	req := domain.ConversionRequest{Markdown: md, Options: domain.ParseOptions(raw)}
	if err := req.Validate(maxBytes); err != nil {
		return domain.ConversionRequest{}, err
	}
	return req, nil
}

// MarkdownTooLarge is the 400 message for markdown above maxBytes.
func MarkdownTooLarge(maxBytes int) string {
	return fmt.Sprintf("Markdown content exceeds the %d byte limit.", maxBytes)
}

// Generate handles POST /api/generate-pdf.
func (h *Handler) Generate(c *fiber.Ctx) error {
	requestID := c.GetRespHeader(fiber.HeaderXRequestID)

	req, err := parseRequest(c.Body(), h.maxBytes)
	if err != nil {
		if errors.Is(err, domain.ErrMarkdownTooLarge) {
			return fiber.NewError(fiber.StatusBadRequest, MarkdownTooLarge(h.maxBytes))
		}
		return fiber.NewError(fiber.StatusBadRequest, MsgInvalidMarkdown)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	start := time.Now()
	res, err := h.conv.Convert(ctx, req)
	if err != nil {
		return h.convertError(c, err, requestID)
	}

	switch res.Kind {
	case domain.KindHTML:
		logging.Info("HTML generated", "bytes", len(res.Document), "request_id", requestID)
		return c.JSON(fiber.Map{
			"success":     true,
			"htmlContent": res.Document,
			"message":     MsgHTMLGenerated,
		})
	case domain.KindPDF:
		logging.Info("PDF generated", "bytes", len(res.PDF), "duration_ms", time.Since(start).Milliseconds(), "request_id", requestID)
		c.Set(fiber.HeaderContentType, "application/pdf")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+PDFFilename+`"`)
		return c.Send(res.PDF)
	default:
		return fmt.Errorf("unexpected conversion result kind %s", res.Kind)
	}
}

func (h *Handler) convertError(c *fiber.Ctx, err error, requestID string) error {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		logging.Error("PDF generation timeout", "timeout", h.timeout.String(), "error", err, "request_id", requestID)
		return fiber.NewError(fiber.StatusServiceUnavailable, MsgTimeout)
	case errors.Is(err, domain.ErrRender):
		logging.Error("PDF generation failed", "stage", string(render.StageOf(err)), "error", err, "request_id", requestID)
		body := fiber.Map{"error": MsgRenderFailed}
		if !h.production {
			body["message"] = err.Error()
		}
		return c.Status(fiber.StatusInternalServerError).JSON(body)
	default:
		logging.Error("Conversion failed", "error", err, "request_id", requestID)
		return fiber.NewError(fiber.StatusInternalServerError, MsgServerError)
	}
}

// Preflight answers OPTIONS requests that did not carry CORS preflight headers.
func (h *Handler) Preflight(c *fiber.Ctx) error {
	c.Status(fiber.StatusOK)
	return nil
}

// MethodNotAllowed rejects every other method on the endpoint.
func (h *Handler) MethodNotAllowed(c *fiber.Ctx) error {
	return fiber.NewError(fiber.StatusMethodNotAllowed, MsgMethodNotAllowed)
}

// Root serves the banner on GET /.
func Root(c *fiber.Ctx) error {
	return c.SendString(Banner)
}

// RendererStats reports the active strategy and renderer capacity.
func (h *Handler) RendererStats(c *fiber.Ctx) error {
	out := fiber.Map{"strategy": h.strategy}
	if h.backend == nil {
		out["enabled"] = false
		return c.JSON(out)
	}
	st := render.Stats{Engine: h.backend.Name()}
	if r, ok := h.backend.(render.StatsReporter); ok {
		st = r.Stats()
	}
	out["enabled"] = true
	out["renderer"] = st
	return c.JSON(out)
}
