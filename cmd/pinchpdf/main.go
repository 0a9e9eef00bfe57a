package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pinchtab/pinchpdf/internal/config"
	"github.com/pinchtab/pinchpdf/internal/logging"
)

var version = "dev"

func main() {
	cfg := config.Load()
	log, sink := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	defer func() { _ = sink.Close() }()

	cmd, args := "serve", []string(nil)
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	code := 0
	switch cmd {
	case "--version", "-v", "version":
		fmt.Printf("pinchpdf %s\n", version)
	case "help", "--help", "-h":
		printHelp()
	case "config":
		if err := config.HandleConfigCommand(cfg, args, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			code = 1
		}
	case "convert":
		code = runConvert(cfg, log, args, os.Stdout)
	case "serve":
		code = runServe(cfg, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printHelp()
		code = 2
	}
	if code != 0 {
		_ = sink.Close()
		os.Exit(code)
	}
}

func printHelp() {
	fmt.Printf(`pinchpdf %s - render web pages to PDF, images and MHTML with headless Chrome

COMMANDS:
  pinchpdf serve                      Start the HTTP server (default)
  pinchpdf convert [flags] <input>... Convert URLs or inline HTML
  pinchpdf config init [--force]      Write a default config file
  pinchpdf config show                Print the effective configuration
  pinchpdf --version                  Print the version

CONVERT FLAGS:
  -o, --output FILE       Output file (single input only)
  -d, --out-dir DIR       Directory for outputs (default .)
  -k, --kind KIND         pdf, png, jpeg, webp or mhtml (default pdf)
  --jobs FILE             Read jobs from a YAML or JSON list
  --paper NAME            Letter, Legal, Tabloid, Ledger, A0-A6
  --landscape             Landscape orientation
  --scale N               Page scale, 0 < N <= 2
  --margin IN             All margins in inches
  --page-ranges R         e.g. 1-3,5
  --header HTML           Header template (enables header/footer)
  --footer HTML           Footer template (enables header/footer)
  --no-background         Skip CSS backgrounds
  -q, --quality N         JPEG/WebP quality
  --full-page             Capture beyond the viewport
  --js CODE               Run JavaScript after load
  --wait-status VALUE     Wait until window.status equals VALUE
  --wait-timeout MS       Give up waiting for window.status after MS
  --timeout DURATION      Whole-conversion timeout (e.g. 30s)
  --block LIST            Presets to block: images,media,trackers
  --blacklist GLOB        Block matching URLs (repeatable)
  --safe-url URL          Never block this URL (repeatable)
  -H, --http-header K:V   Extra request header (repeatable)
  --cache                 Keep the browser cache enabled
  -p, --parallel N        Concurrent conversions (default max concurrent)
  --format text|yaml      Summary format

ENVIRONMENT:
  PINCHPDF_CONFIG         Config file (JSON or YAML)
  PINCHPDF_PORT           Server port (default 9870)
  PINCHPDF_TOKEN          Bearer token for the HTTP API
  CDP_URL                 Use a running Chrome instead of launching one
  CHROME_BINARY           Chrome executable to launch
`, version)
}
