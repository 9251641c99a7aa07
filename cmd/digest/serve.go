package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dailydigest/internal/capture"
	"dailydigest/internal/config"
	appLog "dailydigest/internal/log"
	"dailydigest/internal/web"
)

func serveCmd(flags *rootFlags) *cobra.Command {
	var (
		listen    string
		basicAuth string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a live preview of the digest over HTTP (never sends email)",
		Long: `Serve the digest for previewing while editing the config.

Routes:
  /health        liveness
  /              the HTML email
  /digest.txt    the plain-text part
  /api/digest    the collected data as JSON

Examples:
  digest serve --listen 127.0.0.1:8090
  digest serve --listen :8090 --basic-auth me:secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseBasicAuth(basicAuth)
			if err != nil {
				return err
			}
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			p, err := newPipeline(cfg)
			if err != nil {
				return err
			}
			return web.NewServer(p, opts).ListenAndServe(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8090", "listen address")
	cmd.Flags().StringVar(&basicAuth, "basic-auth", os.Getenv("DIGEST_PREVIEW_AUTH"), "user:password for HTTP basic auth (env DIGEST_PREVIEW_AUTH)")
	return cmd
}

func parseBasicAuth(v string) (web.Options, error) {
	if v == "" {
		return web.Options{}, nil
	}
	user, pass, ok := strings.Cut(v, ":")
	if !ok || user == "" || pass == "" {
		return web.Options{}, fmt.Errorf("--basic-auth must be user:password")
	}
	return web.Options{Username: user, Password: pass}, nil
}

func previewCmd(flags *rootFlags) *cobra.Command {
	var (
		out    string
		width  int
		height int
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render the digest to a PNG screenshot with headless Chromium (never sends email)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			p, err := newPipeline(cfg)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			serveErr := make(chan error, 1)
			go func() { serveErr <- web.NewServer(p, web.Options{}).Serve(ctx, ln) }()

			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}

			captureErr := capture.CapturePNG(ctx, capture.Options{
				URL:        "http://" + ln.Addr().String() + "/",
				OutputPath: out,
				Width:      width,
				Height:     height,
				Timeout:    cfg.HTTPTimeout() * 3,
			})
			cancel()
			if err := <-serveErr; err != nil {
				appLog.Error("preview server stopped with error", err)
			}
			if captureErr != nil {
				return captureErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "digest.png", "PNG output path")
	cmd.Flags().IntVar(&width, "width", capture.DefaultWidth, "viewport width in pixels")
	cmd.Flags().IntVar(&height, "height", capture.DefaultHeight, "viewport height in pixels")
	return cmd
}
