// Package pipeline runs a batch of instructions through a completion source
// with bounded concurrency.
package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kitbuilder587/completion-source/internal/llm"
)

const defaultConcurrency = 4

// Job is one JSONL input line.
type Job struct {
	ID          string         `json:"id"`
	Instruction string         `json:"instruction"`
	Messages    []llm.Message  `json:"messages,omitempty"`
	Model       string         `json:"model,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// Result is one JSONL output line. OK is false when the source produced no
// usable completion.
type Result struct {
	ID       string `json:"id"`
	Response string `json:"response,omitempty"`
	OK       bool   `json:"ok"`
}

type Stats struct {
	Total  int
	OK     int
	Failed int
}

type InFlight interface {
	IncRequestsInFlight()
	DecRequestsInFlight()
}

type Config struct {
	Concurrency int
}

type Runner struct {
	source      llm.Source
	concurrency int
	logger      *zap.Logger
	inFlight    InFlight
}

type Option func(*Runner)

func WithInFlight(g InFlight) Option {
	return func(r *Runner) {
		r.inFlight = g
	}
}

func New(source llm.Source, cfg Config, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	r := &Runner{
		source:      source,
		concurrency: cfg.Concurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run returns one result per job, in input order. A failed completion is a
// result with OK false; only context cancellation aborts the batch.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]Result, Stats, error) {
	results := make([]Result, len(jobs))
	for i, job := range jobs {
		results[i].ID = job.ID
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.runOne(gctx, job)
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	stats := Stats{Total: len(jobs)}
	for _, res := range results {
		if res.OK {
			stats.OK++
		} else {
			stats.Failed++
		}
	}

	r.logger.Info("generation finished",
		zap.Int("total", stats.Total),
		zap.Int("ok", stats.OK),
		zap.Int("failed", stats.Failed),
	)

	if err != nil {
		return results, stats, fmt.Errorf("run pipeline: %w", err)
	}
	return results, stats, nil
}

func (r *Runner) runOne(ctx context.Context, job Job) Result {
	if r.inFlight != nil {
		r.inFlight.IncRequestsInFlight()
		defer r.inFlight.DecRequestsInFlight()
	}

	opts := []llm.Option{llm.WithMessages(job.Messages), llm.WithParams(job.Params)}
	if job.Model != "" {
		opts = append(opts, llm.WithModel(job.Model))
	}

	text, ok := r.source.GenerateResponse(ctx, job.Instruction, opts...)
	if !ok {
		r.logger.Warn("no completion", zap.String("id", job.ID))
	}
	return Result{ID: job.ID, Response: text, OK: ok}
}

// ReadJobs parses JSONL. Blank lines are skipped, jobs without an id get
// their line number.
func ReadJobs(rd io.Reader) ([]Job, error) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var jobs []Job
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(text), &job); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if job.ID == "" {
			job.ID = strconv.Itoa(line)
		}
		jobs = append(jobs, job)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read jobs: %w", err)
	}

	return jobs, nil
}

func WriteResults(w io.Writer, results []Result) error {
	enc := json.NewEncoder(w)
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("write result %s: %w", res.ID, err)
		}
	}
	return nil
}
