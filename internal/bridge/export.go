package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	cdpio "github.com/chromedp/cdproto/io"
	"github.com/chromedp/cdproto/page"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/pinchtab/pinchpdf/internal/countdown"
)

// pdfChunkSize is the IO.read size requested per round trip.
const pdfChunkSize = 1 << 20

type readResult struct {
	Base64Encoded bool   `json:"base64Encoded"`
	Data          string `json:"data"`
	EOF           bool   `json:"eof"`
}

// ExportPDF prints the loaded page and streams the document into w. Every
// round trip is bounded by what is left on timer.
func (d *Driver) ExportPDF(ctx context.Context, settings PDFSettings, w io.Writer, timer *countdown.Timer) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	var raw jsontext.Value
	if err := d.call(ctx, timer, d.page, page.CommandPrintToPDF, settings.params(), &raw); err != nil {
		return err
	}
	var res struct {
		Stream cdpio.StreamHandle `json:"stream"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("%w: decode %s result: %v", ErrProtocol, page.CommandPrintToPDF, err)
	}
	if res.Stream == "" {
		return fmt.Errorf("%w: %s returned no stream handle: %s", ErrConversion, page.CommandPrintToPDF, abbreviate(raw))
	}
	d.log.Debug("pdf stream opened", "stream", string(res.Stream))

	closed := false
	defer func() {
		if closed {
			return
		}
		cctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := d.page.Execute(cctx, cdpio.CommandClose, cdpio.Close(res.Stream), nil); err != nil {
			d.log.Debug("close pdf stream", "err", err)
		}
	}()

	var total int64
	for chunks := 1; ; chunks++ {
		var chunk readResult
		if err := d.call(ctx, timer, d.page, cdpio.CommandRead, cdpio.Read(res.Stream).WithSize(pdfChunkSize), &chunk); err != nil {
			return err
		}
		data := []byte(chunk.Data)
		if chunk.Base64Encoded {
			var err error
			if data, err = base64.StdEncoding.DecodeString(chunk.Data); err != nil {
				return fmt.Errorf("%w: %s chunk %d: %v", ErrProtocol, cdpio.CommandRead, chunks, err)
			}
		}
		if len(data) > 0 {
			if _, err := w.Write(data); err != nil {
				return fmt.Errorf("%w: write pdf output: %v", ErrConversion, err)
			}
			total += int64(len(data))
		}
		if chunk.EOF {
			d.log.Debug("pdf stream drained", "chunks", chunks, "bytes", total)
			break
		}
	}

	closed = true
	if err := d.call(ctx, timer, d.page, cdpio.CommandClose, cdpio.Close(res.Stream), nil); err != nil {
		return err
	}
	d.log.Info("pdf exported", "bytes", total)
	return nil
}

// CaptureScreenshot returns the encoded image of the current viewport (or
// the full page when settings ask for it).
func (d *Driver) CaptureScreenshot(ctx context.Context, settings ScreenshotSettings, timer *countdown.Timer) ([]byte, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	var raw jsontext.Value
	if err := d.call(ctx, timer, d.page, page.CommandCaptureScreenshot, settings.params(), &raw); err != nil {
		return nil, err
	}
	var res struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: decode %s result: %v", ErrProtocol, page.CommandCaptureScreenshot, err)
	}
	if res.Data == "" {
		return nil, fmt.Errorf("%w: %s returned no image data: %s", ErrConversion, page.CommandCaptureScreenshot, abbreviate(raw))
	}
	buf, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrProtocol, page.CommandCaptureScreenshot, err)
	}
	d.log.Info("screenshot captured", "format", settings.Format, "bytes", len(buf))
	return buf, nil
}

// CaptureSnapshot returns the page serialised as MHTML.
func (d *Driver) CaptureSnapshot(ctx context.Context, timer *countdown.Timer) (string, error) {
	var res struct {
		Data string `json:"data"`
	}
	params := page.CaptureSnapshot().WithFormat(page.CaptureSnapshotFormatMhtml)
	if err := d.call(ctx, timer, d.page, page.CommandCaptureSnapshot, params, &res); err != nil {
		return "", err
	}
	d.log.Info("snapshot captured", "bytes", len(res.Data))
	return res.Data, nil
}

func abbreviate(raw jsontext.Value) string {
	const limit = 256
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}
