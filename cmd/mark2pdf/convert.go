package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mark2pdf/internal/client"
	"mark2pdf/internal/config"
	"mark2pdf/internal/conversion"
	"mark2pdf/internal/domain"
	"mark2pdf/internal/infra/logging"
)

type convertFlags struct {
	local       bool
	server      string
	apiKey      string
	output      string
	pageSize    string
	orientation string
	margin      int
	marginSet   bool
	attempts    int
}

func newConvertCmd(load func() config.Config) *cobra.Command {
	var f convertFlags

	cmd := &cobra.Command{
		Use:   "convert [file.md]",
		Short: "Convert a Markdown file (or stdin) to PDF",
		Long: "Convert sends the Markdown to a running server by default. With --local it renders\n" +
			"in-process using the configured browser engine. When the render strategy is \"client\"\n" +
			"the output is a print-ready HTML document instead of a PDF.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitConsole(cmd.ErrOrStderr(), "warn")

			f.marginSet = cmd.Flags().Changed("margin")
			md, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			var res domain.ConversionResult
			if f.local {
				res, err = convertLocal(cmd.Context(), load(), md, f.options())
			} else {
				res, err = convertRemote(cmd.Context(), f, md)
			}
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), f.output, res)
		},
	}

	cmd.Flags().BoolVar(&f.local, "local", false, "Render in-process instead of calling a server")
	cmd.Flags().StringVar(&f.server, "server", "http://localhost:4000", "Base URL of the PDF Converter API")
	cmd.Flags().StringVar(&f.apiKey, "api-key", os.Getenv("MARK2PDF_API_KEY"), "API key sent as X-API-Key")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write to file instead of stdout")
	cmd.Flags().StringVar(&f.pageSize, "page-size", "", "A4 or Letter")
	cmd.Flags().StringVar(&f.orientation, "orientation", "", "portrait or landscape")
	cmd.Flags().IntVar(&f.margin, "margin", domain.DefaultMarginPx, "Page margin in CSS pixels")
	cmd.Flags().IntVar(&f.attempts, "attempts", 3, "Attempts for retryable failures (remote only)")
	return cmd
}

// options returns the raw options object; only flags the user set are included.
func (f convertFlags) options() map[string]any {
	raw := map[string]any{}
	if f.pageSize != "" {
		raw["pageSize"] = f.pageSize
	}
	if f.orientation != "" {
		raw["orientation"] = f.orientation
	}
	if f.marginSet {
		raw["margin"] = f.margin
	}
	return raw
}

func readInput(stdin io.Reader, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("read markdown: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("read markdown: input is empty")
	}
	return string(data), nil
}

func convertLocal(ctx context.Context, cfg config.Config, md string, raw map[string]any) (domain.ConversionResult, error) {
	req := domain.ConversionRequest{Markdown: md, Options: domain.ParseOptions(raw)}
	if err := req.Validate(cfg.Limits.MaxMarkdownBytes); err != nil {
		return domain.ConversionResult{}, err
	}

	backend, closeBackend, err := newBackend(cfg)
	if err != nil {
		return domain.ConversionResult{}, err
	}
	defer closeBackend()

	svc, err := conversion.New(cfg, backend)
	if err != nil {
		return domain.ConversionResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Server.RequestTimeout)
	defer cancel()
	return svc.Convert(ctx, req)
}

func convertRemote(ctx context.Context, f convertFlags, md string) (domain.ConversionResult, error) {
	cfg := client.DefaultConfig(f.server)
	cfg.APIKey = f.apiKey
	cfg.MaxAttempts = f.attempts

	c, err := client.New(cfg)
	if err != nil {
		return domain.ConversionResult{}, err
	}

	opts := client.Options{PageSize: f.pageSize, Orientation: f.orientation}
	if f.marginSet {
		m := f.margin
		opts.Margin = &m
	}
	res, err := c.Generate(ctx, md, opts)
	if err != nil {
		return domain.ConversionResult{}, err
	}
	return domain.ConversionResult{Kind: res.Kind, PDF: res.PDF, Document: res.Document}, nil
}

func writeResult(stdout io.Writer, path string, res domain.ConversionResult) error {
	var data []byte
	switch res.Kind {
	case domain.KindPDF:
		data = res.PDF
	case domain.KindHTML:
		data = []byte(res.Document)
	default:
		return fmt.Errorf("unexpected result kind %s", res.Kind)
	}

	if path != "" {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}
		return nil
	}
	_, err := stdout.Write(data)
	return err
}
