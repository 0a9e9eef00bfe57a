package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pinchtab/pinchpdf/internal/bridge"
	"github.com/pinchtab/pinchpdf/internal/converter"
	"github.com/pinchtab/pinchpdf/internal/idutil"
	"github.com/pinchtab/pinchpdf/internal/web"
)

const (
	outputBase64 = "base64"
	outputRaw    = "raw"
	outputFile   = "file"
)

type convertRequest struct {
	converter.Job `json:",inline"`
	// Output is how the result is delivered: base64 (default), raw or file.
	Output string `json:"output,omitempty"`
	// Path is relative to the state dir; only used with output=file.
	Path string `json:"path,omitempty"`
	// Paper names a paper format and overrides pdf.paperWidth/paperHeight.
	Paper string `json:"paper,omitempty"`
}

type convertResponse struct {
	converter.Result `json:",inline"`
	Base64           string `json:"base64,omitempty"`
	Path             string `json:"path,omitempty"`
}

// HandleConvert returns the handler for one output kind.
//
// @Endpoint POST /pdf
// @Endpoint POST /screenshot
// @Endpoint POST /snapshot
func (h *Handlers) HandleConvert(kind converter.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := convertRequest{Job: converter.NewJob("", kind)}
		if err := web.DecodeJSON(w, r, maxBodySize, &req); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, web.ErrBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			web.ErrorCode(w, status, "invalid_request", err.Error(), false, nil)
			return
		}
		if r.URL.Query().Get("raw") == "true" {
			req.Output = outputRaw
		}
		job := req.Job
		job.Kind = kind
		if req.Paper != "" {
			if err := job.PDF.ParsePaperFormat(req.Paper); err != nil {
				writeConvertError(w, err)
				return
			}
		}
		switch req.Output {
		case "", outputBase64, outputRaw, outputFile:
		default:
			writeConvertError(w, fmt.Errorf("%w: unknown output %q", bridge.ErrInvalidRequest, req.Output))
			return
		}
		if job.ID != "" && !validJobID(job.ID) {
			writeConvertError(w, fmt.Errorf("%w: malformed id %q", bridge.ErrInvalidRequest, job.ID))
			return
		}
		if err := h.Converter.Validate(job); err != nil {
			writeConvertError(w, err)
			return
		}

		if err := h.sem.Acquire(r.Context(), 1); err != nil {
			web.ErrorCode(w, http.StatusServiceUnavailable, "canceled", "request canceled while queued", true, nil)
			return
		}
		defer h.sem.Release(1)
		inflight.Add(1)
		defer inflight.Add(-1)

		if req.Output == outputFile {
			h.convertToFile(r.Context(), w, job, req.Path)
			return
		}

		var buf bytes.Buffer
		res, err := h.Converter.Convert(r.Context(), job, &buf)
		recordConversion(err)
		if err != nil {
			h.log.Warn("conversion failed", "id", res.ID, "kind", string(kind), "err", err)
			writeConvertError(w, err)
			return
		}

		if req.Output == outputRaw {
			w.Header().Set("Content-Type", res.ContentType)
			w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
			w.Header().Set("X-Conversion-Id", res.ID)
			if _, err := w.Write(buf.Bytes()); err != nil {
				h.log.Error("write response", "id", res.ID, "err", err)
			}
			return
		}
		web.JSON(w, http.StatusOK, convertResponse{Result: res, Base64: base64.StdEncoding.EncodeToString(buf.Bytes())})
	}
}

func (h *Handlers) convertToFile(ctx context.Context, w http.ResponseWriter, job converter.Job, path string) {
	if path == "" {
		if job.ID == "" {
			job.ID = idutil.ConversionID()
		}
		path = filepath.Join(string(job.Kind)+"s", job.ID+"."+job.Extension())
	}
	f, savePath, err := web.CreateUnder(h.Config.StateDir, path)
	if err != nil {
		writeConvertError(w, fmt.Errorf("%w: invalid path: %v", bridge.ErrInvalidRequest, err))
		return
	}

	res, err := h.Converter.Convert(ctx, job, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: close output: %v", bridge.ErrConversion, cerr)
	}
	recordConversion(err)
	if err != nil {
		_ = os.Remove(savePath)
		h.log.Warn("conversion failed", "id", res.ID, "kind", string(job.Kind), "err", err)
		writeConvertError(w, err)
		return
	}
	web.JSON(w, http.StatusOK, convertResponse{Result: res, Path: savePath})
}

// validJobID accepts ids minted by idutil, so that client-chosen ids stay
// usable as file names.
func validJobID(id string) bool {
	p := idutil.ExtractPrefix(id)
	if p != idutil.PrefixConversion && p != idutil.PrefixJob {
		return false
	}
	return idutil.IsValidID(id, p) && !strings.ContainsAny(id, `/\.`)
}

// statusFor maps a conversion error onto an HTTP status and error code.
func statusFor(err error) (status int, code string, retryable bool) {
	switch {
	case errors.Is(err, bridge.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request", false
	case errors.Is(err, bridge.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout", true
	case errors.Is(err, bridge.ErrNavigation):
		return http.StatusBadGateway, "navigation", false
	case errors.Is(err, bridge.ErrScript):
		return http.StatusUnprocessableEntity, "script", false
	case errors.Is(err, bridge.ErrConnection):
		return http.StatusServiceUnavailable, "connection", true
	case errors.Is(err, bridge.ErrConversion):
		return http.StatusInternalServerError, "conversion", false
	case errors.Is(err, bridge.ErrProtocol):
		return http.StatusInternalServerError, "protocol", false
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "canceled", true
	}
	return http.StatusInternalServerError, "error", false
}

func writeConvertError(w http.ResponseWriter, err error) {
	status, code, retryable := statusFor(err)
	var details map[string]any
	var nerr *bridge.NavigationError
	if errors.As(err, &nerr) {
		details = map[string]any{"url": nerr.URL, "errorText": nerr.Text}
	}
	web.ErrorCode(w, status, code, err.Error(), retryable, details)
}
