package converter

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one job in a batch.
type Outcome struct {
	Index  int    `json:"index" yaml:"index"`
	Input  string `json:"input" yaml:"input"`
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
	Result `json:",inline" yaml:",inline"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Sink opens the destination for a job's output and returns its name.
type Sink func(index int, job Job) (io.WriteCloser, string, error)

// ConvertAll runs jobs with at most parallel conversions in flight. A failed
// job does not stop the others; outcomes keep the order of jobs.
func (c *Converter) ConvertAll(ctx context.Context, jobs []Job, parallel int, sink Sink) []Outcome {
	if parallel < 1 {
		parallel = 1
	}
	out := make([]Outcome, len(jobs))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, job := range jobs {
		out[i] = Outcome{Index: i, Input: describe(job)}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Error = err.Error()
				return nil
			}
			w, name, err := sink(i, job)
			if err != nil {
				out[i].Error = err.Error()
				return nil
			}
			out[i].Output = name
			res, err := c.Convert(ctx, job, w)
			if cerr := w.Close(); err == nil && cerr != nil {
				err = cerr
			}
			out[i].Result = res
			if err != nil {
				out[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Failed counts outcomes with an error.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Error != "" {
			n++
		}
	}
	return n
}

func describe(job Job) string {
	if job.URL != "" {
		return job.URL
	}
	const limit = 40
	if len(job.HTML) > limit {
		return job.HTML[:limit] + "..."
	}
	return job.HTML
}
