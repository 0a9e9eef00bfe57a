package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pinchtab/pinchpdf/internal/chrome"
	"github.com/pinchtab/pinchpdf/internal/config"
	"github.com/pinchtab/pinchpdf/internal/converter"
	"github.com/pinchtab/pinchpdf/internal/idutil"
	"gopkg.in/yaml.v3"
)

type convertOptions struct {
	inputs   []string
	output   string
	outDir   string
	jobsFile string
	parallel int
	format   string
	template converter.Job
}

var errUsage = errors.New("usage: pinchpdf convert [flags] <url|html>... (see pinchpdf help)")

func parseConvertArgs(args []string, cfg *config.RuntimeConfig) (*convertOptions, error) {
	o := &convertOptions{
		outDir:   ".",
		parallel: cfg.MaxConcurrent,
		format:   "text",
		template: converter.NewJob("", converter.KindPDF),
	}
	t := &o.template

	for i := 0; i < len(args); i++ {
		arg := args[i]
		next := func() (string, error) {
			if i+1 >= len(args) {
				return "", fmt.Errorf("%s needs a value", arg)
			}
			i++
			return args[i], nil
		}
		nextFloat := func() (float64, error) {
			v, err := next()
			if err != nil {
				return 0, err
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", arg, err)
			}
			return f, nil
		}
		nextInt := func() (int, error) {
			f, err := nextFloat()
			return int(f), err
		}

		var err error
		switch arg {
		case "-o", "--output":
			o.output, err = next()
		case "-d", "--out-dir":
			o.outDir, err = next()
		case "--jobs":
			o.jobsFile, err = next()
		case "-k", "--kind":
			var v string
			if v, err = next(); err == nil {
				err = setKind(t, v)
			}
		case "--paper":
			var v string
			if v, err = next(); err == nil {
				err = t.PDF.ParsePaperFormat(v)
			}
		case "--landscape":
			t.PDF.Landscape = true
		case "--scale":
			t.PDF.Scale, err = nextFloat()
		case "--margin":
			var m float64
			if m, err = nextFloat(); err == nil {
				t.PDF.MarginTop, t.PDF.MarginBottom, t.PDF.MarginLeft, t.PDF.MarginRight = m, m, m, m
			}
		case "--page-ranges":
			t.PDF.PageRanges, err = next()
		case "--header":
			t.PDF.HeaderTemplate, err = next()
			t.PDF.DisplayHeaderFooter = true
		case "--footer":
			t.PDF.FooterTemplate, err = next()
			t.PDF.DisplayHeaderFooter = true
		case "--no-background":
			t.PDF.PrintBackground = false
		case "-q", "--quality":
			t.Screenshot.Quality, err = nextInt()
		case "--full-page":
			t.Screenshot.FullPage = true
		case "--js":
			t.RunJavascript, err = next()
		case "--wait-status":
			t.WaitForWindowStatus, err = next()
		case "--wait-timeout":
			t.WaitForWindowStatusTimeout, err = nextInt()
		case "--timeout":
			var v string
			if v, err = next(); err == nil {
				var d time.Duration
				if d, err = time.ParseDuration(v); err == nil {
					t.Timeout = int(d.Milliseconds())
				}
			}
		case "--block":
			var v string
			if v, err = next(); err == nil {
				for _, p := range strings.Split(v, ",") {
					if p = strings.TrimSpace(p); p != "" {
						t.BlockPresets = append(t.BlockPresets, p)
					}
				}
			}
		case "--blacklist":
			var v string
			if v, err = next(); err == nil {
				t.Blacklist = append(t.Blacklist, v)
			}
		case "--safe-url":
			var v string
			if v, err = next(); err == nil {
				t.SafeURLs = append(t.SafeURLs, v)
			}
		case "-H", "--http-header":
			var v string
			if v, err = next(); err == nil {
				err = addHeader(t, v)
			}
		case "--cache":
			enabled := true
			t.CacheEnabled = &enabled
		case "-p", "--parallel":
			o.parallel, err = nextInt()
		case "--format":
			o.format, err = next()
			if err == nil && o.format != "text" && o.format != "yaml" {
				err = fmt.Errorf("unknown format %q", o.format)
			}
		default:
			if strings.HasPrefix(arg, "-") && arg != "-" {
				return nil, fmt.Errorf("unknown flag %s", arg)
			}
			o.inputs = append(o.inputs, arg)
		}
		if err != nil {
			return nil, err
		}
	}

	if len(o.inputs) == 0 && o.jobsFile == "" {
		return nil, errUsage
	}
	if o.output != "" && len(o.inputs) != 1 {
		return nil, fmt.Errorf("--output needs exactly one input")
	}
	return o, nil
}

func setKind(j *converter.Job, v string) error {
	kind, err := converter.ParseKind(v)
	if err != nil {
		return err
	}
	j.Kind = kind
	switch v {
	case "png", "jpeg", "webp":
		j.Screenshot.Format = v
	}
	return nil
}

func addHeader(j *converter.Job, kv string) error {
	k, v, ok := strings.Cut(kv, ":")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("header %q is not Name: value", kv)
	}
	if j.Headers == nil {
		j.Headers = make(map[string]string)
	}
	j.Headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	return nil
}

// jobs expands the inputs and the jobs file into concrete jobs. Entries of
// the jobs file start from the command-line template.
func (o *convertOptions) jobs() ([]converter.Job, error) {
	var out []converter.Job
	for _, in := range o.inputs {
		j := cloneJob(o.template)
		if in == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
			in = string(data)
		}
		if looksLikeFile(in) {
			data, err := os.ReadFile(in)
			if err != nil {
				return nil, err
			}
			j.HTML = string(data)
		} else {
			n := converter.NewJob(in, j.Kind)
			j.URL, j.HTML = n.URL, n.HTML
		}
		out = append(out, j)
	}

	if o.jobsFile != "" {
		data, err := os.ReadFile(o.jobsFile)
		if err != nil {
			return nil, err
		}
		var nodes []yaml.Node
		if err := yaml.Unmarshal(data, &nodes); err != nil {
			return nil, fmt.Errorf("parse %s: %w", o.jobsFile, err)
		}
		for i := range nodes {
			j := cloneJob(o.template)
			if err := nodes[i].Decode(&j); err != nil {
				return nil, fmt.Errorf("parse %s: job %d: %w", o.jobsFile, i, err)
			}
			out = append(out, j)
		}
	}

	for i := range out {
		if out[i].ID == "" {
			out[i].ID = idutil.JobID(out[i].URL+out[i].HTML, i)
		}
	}
	return out, nil
}

func looksLikeFile(in string) bool {
	ext := strings.ToLower(filepath.Ext(in))
	if ext != ".html" && ext != ".htm" {
		return false
	}
	_, err := os.Stat(in)
	return err == nil
}

func cloneJob(j converter.Job) converter.Job {
	c := j
	if j.Headers != nil {
		c.Headers = make(map[string]string, len(j.Headers))
		for k, v := range j.Headers {
			c.Headers[k] = v
		}
	}
	c.SafeURLs = append([]string(nil), j.SafeURLs...)
	c.Blacklist = append([]string(nil), j.Blacklist...)
	c.BlockPresets = append([]string(nil), j.BlockPresets...)
	return c
}

func (o *convertOptions) sink(_ int, job converter.Job) (io.WriteCloser, string, error) {
	path := o.output
	if path == "" {
		path = filepath.Join(o.outDir, job.ID+"."+job.Extension())
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, "", err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

func runConvert(cfg *config.RuntimeConfig, log *slog.Logger, args []string, out io.Writer) int {
	o, err := parseConvertArgs(args, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	jobs, err := o.jobs()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, stopChrome, err := chrome.Browser(ctx, cfg, log)
	if err != nil {
		log.Error("chrome unavailable", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := stopChrome(sctx); err != nil {
			log.Warn("chrome stop", "err", err)
		}
	}()

	opts := converter.OptionsFromConfig(cfg, log)
	opts.SharedBrowser = true
	conv := converter.New(ws, opts)

	outcomes := conv.ConvertAll(ctx, jobs, o.parallel, o.sink)
	for _, oc := range outcomes {
		if oc.Error != "" && oc.Output != "" {
			_ = os.Remove(oc.Output)
		}
	}
	if err := writeSummary(out, o.format, outcomes); err != nil {
		log.Error("write summary", "err", err)
	}
	if converter.Failed(outcomes) > 0 {
		return 1
	}
	return 0
}

func writeSummary(w io.Writer, format string, outcomes []converter.Outcome) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(outcomes); err != nil {
			return err
		}
		return enc.Close()
	}
	for _, oc := range outcomes {
		if oc.Error != "" {
			if _, err := fmt.Fprintf(w, "FAIL %s: %s\n", oc.Input, oc.Error); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "ok   %s -> %s (%d bytes, %dms)\n", oc.Input, oc.Output, oc.Bytes, oc.ElapsedMS); err != nil {
			return err
		}
	}
	return nil
}
