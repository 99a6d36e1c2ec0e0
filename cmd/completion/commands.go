package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kitbuilder587/completion-source/internal/llm"
	"github.com/kitbuilder587/completion-source/internal/pipeline"
)

var errNoCompletion = errors.New("no completion available")

func newCompleteCommand(cc *commandContext) *cobra.Command {
	var system string
	var params map[string]string

	cmd := &cobra.Command{
		Use:   "complete <instruction>",
		Short: "Generate a single completion and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, release, err := cc.source()
			if err != nil {
				return err
			}
			defer release()

			stop, err := cc.serveMetrics(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			opts := []llm.Option{llm.WithParams(parseParams(params))}
			if system != "" {
				opts = append(opts, llm.WithMessages([]llm.Message{{Role: llm.RoleSystem, Content: system}}))
			}

			text, ok := src.GenerateResponse(cmd.Context(), args[0], opts...)
			if !ok {
				return errNoCompletion
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().StringVar(&system, "system", "", "System message sent before the instruction")
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "Extra request option, e.g. -p temperature=0.7")

	return cmd
}

func newValidateCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [model]",
		Short: "Check that a model is available with the configured credentials",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, release, err := cc.source()
			if err != nil {
				return err
			}
			defer release()

			model := ""
			if len(args) == 1 {
				model = args[0]
			}
			if err := src.ValidateModel(cmd.Context(), model); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newGenerateCommand(cc *commandContext) *cobra.Command {
	var input, output string
	var concurrency int
	var validate bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run a JSONL file of instructions through the completion source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, release, err := cc.source()
			if err != nil {
				return err
			}
			defer release()

			if validate {
				if err := src.ValidateModel(cmd.Context(), ""); err != nil {
					return err
				}
			}

			stop, err := cc.serveMetrics(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			in, closeIn, err := openInput(cmd, input)
			if err != nil {
				return err
			}
			defer closeIn()

			jobs, err := pipeline.ReadJobs(in)
			if err != nil {
				return err
			}

			if concurrency <= 0 {
				concurrency = cc.cfg.Pipeline.Concurrency
			}
			runner := pipeline.New(src, pipeline.Config{Concurrency: concurrency}, cc.logger,
				pipeline.WithInFlight(cc.metrics))

			results, stats, runErr := runner.Run(cmd.Context(), jobs)

			out, closeOut, err := openOutput(cmd, output)
			if err != nil {
				return err
			}
			defer closeOut()

			if err := pipeline.WriteResults(out, results); err != nil {
				return err
			}
			cc.logger.Info("results written",
				zap.String("output", output),
				zap.Int("ok", stats.OK),
				zap.Int("failed", stats.Failed),
			)
			return runErr
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "JSONL input file, - for stdin")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "JSONL output file, - for stdout")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel completions (default from config)")
	cmd.Flags().BoolVar(&validate, "validate", false, "Validate the model before generating")

	return cmd
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func openOutput(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// parseParams reads values as JSON where possible so temperature=0.7 is a
// number and stop=["\n"] a list; anything else stays a string.
func parseParams(raw map[string]string) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	params := make(map[string]any, len(raw))
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			params[k] = decoded
			continue
		}
		params[k] = strings.TrimSpace(v)
	}
	return params
}
