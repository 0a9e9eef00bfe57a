package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto"
	"github.com/pinchtab/pinchpdf/internal/cdpconn"
	"github.com/pinchtab/pinchpdf/internal/countdown"
)

// Error kinds. Every error returned by a Driver matches exactly one of these
// with errors.Is, except caller cancellation which is returned as the
// context's own error.
var (
	ErrConnection     = errors.New("connection error")
	ErrProtocol       = errors.New("protocol error")
	ErrNavigation     = errors.New("navigation error")
	ErrTimeout        = errors.New("timeout")
	ErrConversion     = errors.New("conversion error")
	ErrScript         = errors.New("script error")
	ErrInvalidRequest = errors.New("invalid request")
)

// NavigationError carries the error text Chrome reported for a navigation.
type NavigationError struct {
	URL  string
	Text string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %s", e.URL, e.Text)
}

func (e *NavigationError) Is(target error) bool {
	return target == ErrNavigation
}

// ScriptError carries the exception description of a failed evaluation.
type ScriptError struct {
	Description string
}

func (e *ScriptError) Error() string {
	return "script error: " + e.Description
}

func (e *ScriptError) Is(target error) bool {
	return target == ErrScript
}

// classify maps a channel error onto the driver's error kinds. Expiry of the
// countdown is reported as ErrTimeout, never as the transport failure it
// surfaced through.
func classify(method string, err error, timer *countdown.Timer) error {
	var perr *cdproto.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &perr):
		return fmt.Errorf("%w: %s: %v", ErrProtocol, method, perr)
	case errors.Is(err, cdpconn.ErrMalformed):
		return fmt.Errorf("%w: %s: %v", ErrProtocol, method, err)
	case timer != nil && timer.Expired() && errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s did not answer within the conversion deadline", ErrTimeout, method)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ErrConnection, method, err)
	}
}
