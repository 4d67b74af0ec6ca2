package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mark2pdf/internal/config"
	"mark2pdf/internal/conversion"
	"mark2pdf/internal/domain"
	"mark2pdf/internal/render"
	"mark2pdf/internal/render/rendertest"
)

func testApp(t *testing.T, cfg config.Config, b render.Backend) *fiber.App {
	t.Helper()
	svc, err := conversion.New(cfg, b)
	require.NoError(t, err)

	h := New(svc, b, cfg)
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": MsgServerError})
		},
	})
	app.Options("/api/generate-pdf", h.Preflight)
	app.Post("/api/generate-pdf", h.Generate)
	app.All("/api/generate-pdf", h.MethodNotAllowed)
	app.Get("/ops/renderer/stats", h.RendererStats)
	app.Get("/", Root)
	return app
}

func post(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/generate-pdf", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func jsonBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestGenerate_ServerRendersPDF(t *testing.T) {
	b := &rendertest.Backend{}
	app := testApp(t, config.Default(), b)

	resp := post(t, app, `{"markdown":"# Hello World","options":{"pageSize":"A4","orientation":"portrait","margin":20}}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="document.pdf"`, resp.Header.Get("Content-Disposition"))

	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.HasPrefix(string(body), "%PDF-"))
	assert.Equal(t, 1, b.Launches())
	assert.Equal(t, 1, b.Closes())
}

func TestGenerate_ClientStrategyReturnsEnvelope(t *testing.T) {
	cfg := config.Default()
	cfg.Render.Strategy = config.StrategyClient
	app := testApp(t, cfg, nil)

	resp := post(t, app, `{"markdown":"# Hello World"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	out := jsonBody(t, resp)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, MsgHTMLGenerated, out["message"])
	html, _ := out["htmlContent"].(string)
	assert.Contains(t, html, "Hello World</h1>")
	assert.Contains(t, html, "window.print()")
}

func TestGenerate_ValidationNeverRenders(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{name: "empty object", body: `{}`, msg: MsgInvalidMarkdown},
		{name: "empty markdown", body: `{"markdown":""}`, msg: MsgInvalidMarkdown},
		{name: "null markdown", body: `{"markdown":null}`, msg: MsgInvalidMarkdown},
		{name: "number", body: `{"markdown":42}`, msg: MsgInvalidMarkdown},
		{name: "array", body: `{"markdown":["a"]}`, msg: MsgInvalidMarkdown},
		{name: "not json", body: `markdown=hello`, msg: MsgInvalidMarkdown},
		{name: "empty body", body: ``, msg: MsgInvalidMarkdown},
		{name: "too large", body: `{"markdown":"` + strings.Repeat("a", 2*1024*1024+1) + `"}`, msg: "Markdown content exceeds the 2097152 byte limit."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &rendertest.Backend{}
			app := testApp(t, config.Default(), b)

			resp := post(t, app, tc.body)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tc.msg, jsonBody(t, resp)["error"])
			assert.Equal(t, 0, b.Launches())
		})
	}
}

func TestGenerate_ExactLimitIsAccepted(t *testing.T) {
	b := &rendertest.Backend{}
	app := testApp(t, config.Default(), b)

	resp := post(t, app, `{"markdown":"`+strings.Repeat("a", 2*1024*1024)+`"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestGenerate_MalformedOptionsFallBack(t *testing.T) {
	b := &rendertest.Backend{}
	app := testApp(t, config.Default(), b)

	resp := post(t, app, `{"markdown":"x","options":"landscape please"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = post(t, app, `{"markdown":"x","options":{"pageSize":"letter","orientation":"LANDSCAPE","margin":"96px"}}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.Len(t, b.Layouts, 2)
	assert.Equal(t, 8.27, b.Layouts[0].PaperWidth)
	assert.Equal(t, render.Layout{PaperWidth: 11, PaperHeight: 8.5, Margin: 1, PrintBackground: true}, b.Layouts[1])
}

func TestGenerate_RenderFailureIs500(t *testing.T) {
	b := &rendertest.Backend{ExportErr: render.NewError(render.StageExport, errors.New("printToPDF failed"))}
	app := testApp(t, config.Default(), b)

	resp := post(t, app, `{"markdown":"# doc"}`)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	out := jsonBody(t, resp)
	assert.Equal(t, MsgRenderFailed, out["error"])
	assert.Contains(t, out["message"], "printToPDF failed")
	assert.Equal(t, 1, b.Closes())
}

func TestGenerate_RenderFailureHidesDetailInProduction(t *testing.T) {
	cfg := config.Default()
	cfg.App.Env = "production"
	b := &rendertest.Backend{LaunchErr: render.NewError(render.StageLaunch, errors.New("exec: chrome not found"))}
	app := testApp(t, cfg, b)

	resp := post(t, app, `{"markdown":"# doc"}`)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	out := jsonBody(t, resp)
	assert.Equal(t, MsgRenderFailed, out["error"])
	_, hasMessage := out["message"]
	assert.False(t, hasMessage)
}

func TestGenerate_TimeoutIs503(t *testing.T) {
	cfg := config.Default()
	cfg.Server.RequestTimeout = 50 * time.Millisecond
	b := &rendertest.Backend{Block: true}
	app := testApp(t, cfg, b)

	resp := post(t, app, `{"markdown":"# slow"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, MsgTimeout, jsonBody(t, resp)["error"])
	assert.Eventually(t, func() bool { return b.Closes() == 1 }, time.Second, 5*time.Millisecond)
}

func TestGenerate_PanicIsGeneric500(t *testing.T) {
	b := &rendertest.Backend{Panic: "renderer exploded"}
	app := testApp(t, config.Default(), b)

	resp := post(t, app, `{"markdown":"# doc"}`)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, MsgServerError, jsonBody(t, resp)["error"])
}

func TestGenerate_OtherMethods(t *testing.T) {
	app := testApp(t, config.Default(), &rendertest.Backend{})

	for _, m := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		resp, err := app.Test(httptest.NewRequest(m, "/api/generate-pdf", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusMethodNotAllowed, resp.StatusCode, m)
		assert.Equal(t, MsgMethodNotAllowed, jsonBody(t, resp)["error"])
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodOptions, "/api/generate-pdf", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)
}

func TestRoot(t *testing.T) {
	app := testApp(t, config.Default(), &rendertest.Backend{})
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, Banner, string(body))
}

func TestRendererStats(t *testing.T) {
	app := testApp(t, config.Default(), render.Limit(&rendertest.Backend{}, 2))
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ops/renderer/stats", nil))
	require.NoError(t, err)
	out := jsonBody(t, resp)
	assert.Equal(t, "server", out["strategy"])
	assert.Equal(t, true, out["enabled"])
	rs, _ := out["renderer"].(map[string]any)
	assert.Equal(t, "fake", rs["engine"])
	assert.Equal(t, float64(2), rs["capacity"])

	cfg := config.Default()
	cfg.Render.Strategy = config.StrategyClient
	app = testApp(t, cfg, nil)
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ops/renderer/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, false, jsonBody(t, resp)["enabled"])
}

type errConverter struct{ err error }

func (e errConverter) Convert(context.Context, domain.ConversionRequest) (domain.ConversionResult, error) {
	return domain.ConversionResult{}, e.err
}

func TestGenerate_UnknownErrorIsGeneric500(t *testing.T) {
	cfg := config.Default()
	h := New(errConverter{err: errors.New("disk full")}, nil, cfg)
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		require.True(t, errors.As(err, &fe))
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}})
	app.Post("/", h.Generate)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"markdown":"x"}`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, MsgServerError, jsonBody(t, resp)["error"])
}

func TestParseRequest(t *testing.T) {
	req, err := parseRequest([]byte(`{"markdown":"# hi","options":{"pageSize":"Letter","margin":"30px"}}`), 1024)
	require.NoError(t, err)
	assert.Equal(t, "# hi", req.Markdown)
	assert.Equal(t, domain.PageSizeLetter, req.Options.PageSize)
	assert.Equal(t, 30, req.Options.MarginPx)

	_, err = parseRequest([]byte(`{"markdown":"toolong"}`), 3)
	assert.ErrorIs(t, err, domain.ErrMarkdownTooLarge)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
