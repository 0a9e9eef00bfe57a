package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/go-json-experiment/json"
	"github.com/pinchtab/pinchpdf/internal/countdown"
)

const conditionPollInterval = 10 * time.Millisecond

// RunScript evaluates code in the page and fails with a *ScriptError if it
// throws. The script's value is discarded.
func (d *Driver) RunScript(ctx context.Context, code string, timer *countdown.Timer) error {
	var res evaluateResult
	if err := d.call(ctx, timer, d.page, runtime.CommandEvaluate, runtime.Evaluate(code), &res); err != nil {
		return err
	}
	if ex := res.ExceptionDetails; ex != nil {
		desc := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			desc = ex.Exception.Description
		}
		d.log.Warn("script threw", "err", desc)
		return &ScriptError{Description: desc}
	}
	return nil
}

// WaitForCondition polls expression until it evaluates to expected (an exact,
// case-sensitive match of its string form) or timeout has elapsed. Running out
// of time is reported as false, not as an error.
func (d *Driver) WaitForCondition(ctx context.Context, expression, expected string, timeout time.Duration) (bool, error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	polls := 0
	for {
		polls++
		value, err := d.evaluateValue(pctx, expression)
		switch {
		case err == nil && value == expected:
			d.log.Debug("condition met", "expression", expression, "polls", polls)
			return true, nil
		case err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
			return false, nil
		case err != nil:
			return false, err
		}

		select {
		case <-time.After(conditionPollInterval):
		case <-pctx.Done():
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			d.log.Info("condition not met in time", "expression", expression, "expected", expected, "last", value, "polls", polls)
			return false, nil
		}
	}
}

func (d *Driver) evaluateValue(ctx context.Context, expression string) (string, error) {
	var res evaluateResult
	params := runtime.Evaluate(expression).WithSilent(true).WithReturnByValue(true)
	if err := d.call(ctx, nil, d.page, runtime.CommandEvaluate, params, &res); err != nil {
		return "", err
	}
	if len(res.Result.Value) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(res.Result.Value, &s); err == nil {
		return s, nil
	}
	return string(res.Result.Value), nil
}
