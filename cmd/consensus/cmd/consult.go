package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/service/consensus"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/service/report"
)

var consultCmd = &cobra.Command{
	Use:   "consult [flags] PROMPT",
	Short: "Ask several models the same question",
	Long: `Send PROMPT to every model given with --model, in parallel.

With cross-feedback enabled (the default) each model that answered sees
its peers' answers and may refine its own. The report lists every final
answer; failures of individual models are reported, not fatal.

Per-model overrides use the same syntax as report labels:
  --model 'gpt-5[temperature=0.3,reasoning_effort=high]'

Use '-' as PROMPT to read it from stdin.

Examples:
  quorum-consensus consult -m gpt-5 -m google/gemini-2.5-pro "Should we shard the users table?"
  quorum-consensus consult -m gpt-5 -m anthropic/claude-sonnet-4 --file schema.sql --no-feedback "Review this schema"
  quorum-consensus consult -m gpt-5 -m google/gemini-2.5-pro --continuation 3f6c... "What about reads?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConsult,
}

var (
	consultModels          []string
	consultContinuation    string
	consultNoFeedback      bool
	consultFeedbackPrompt  string
	consultFiles           []string
	consultImages          []string
	consultTemperature     float64
	consultReasoningEffort string
	consultFormat          string
	consultSaveDir         string
)

func init() {
	rootCmd.AddCommand(consultCmd)

	consultCmd.Flags().StringArrayVarP(&consultModels, "model", "m", nil,
		"model to consult (repeatable)")
	consultCmd.Flags().StringVarP(&consultContinuation, "continuation", "c", "",
		"continuation id from a previous report")
	consultCmd.Flags().BoolVar(&consultNoFeedback, "no-feedback", false,
		"skip the cross-feedback refinement phase")
	consultCmd.Flags().StringVar(&consultFeedbackPrompt, "feedback-prompt", "",
		"custom refinement instructions (replaces the built-in template)")
	consultCmd.Flags().StringArrayVar(&consultFiles, "file", nil,
		"file or directory under consensus.files_root to embed as context (repeatable)")
	consultCmd.Flags().StringArrayVar(&consultImages, "image", nil,
		"image path under consensus.files_root, or URL, for vision-capable models (repeatable)")
	consultCmd.Flags().Float64Var(&consultTemperature, "temperature", 0,
		"sampling temperature in [0, 1] (default from config)")
	consultCmd.Flags().StringVar(&consultReasoningEffort, "reasoning-effort", "",
		"reasoning effort hint for models that support it")
	consultCmd.Flags().StringVarP(&consultFormat, "format", "o", FormatAuto,
		"output format (auto, json, yaml, markdown)")
	consultCmd.Flags().StringVar(&consultSaveDir, "save", "",
		"also archive the report as markdown under this directory")
	_ = consultCmd.MarkFlagRequired("model")
}

func runConsult(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	format, err := resolveFormat(consultFormat, out)
	if err != nil {
		return err
	}

	req, err := buildConsultRequest(cmd, args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.engine.Consult(ctx, req)
	if err != nil {
		if format != FormatMarkdown {
			_ = writeStructured(out, format, core.NewErrorReport(err))
		}
		return err
	}

	if err := writeReport(out, format, rep); err != nil {
		return err
	}
	if consultSaveDir != "" {
		path, err := report.NewWriter(consultSaveDir).Write(rep)
		if err != nil {
			return err
		}
		a.logger.Info("report archived", "path", path)
	}
	if format != FormatMarkdown && isTerminal(os.Stderr) {
		fmt.Fprintln(os.Stderr, statusLine(rep, !noColor))
	}
	return nil
}

// buildConsultRequest maps flags and arguments to an engine request.
func buildConsultRequest(cmd *cobra.Command, args []string, stdin io.Reader) (consensus.Request, error) {
	prompt := strings.Join(args, " ")
	if prompt == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return consensus.Request{}, fmt.Errorf("reading prompt from stdin: %w", err)
		}
		prompt = string(data)
	}

	specs := make([]core.ModelSpec, 0, len(consultModels))
	for _, raw := range consultModels {
		spec, err := parseModelSpec(raw)
		if err != nil {
			return consensus.Request{}, err
		}
		specs = append(specs, spec)
	}

	req := consensus.Request{
		Prompt:              prompt,
		Models:              specs,
		ContinuationID:      consultContinuation,
		CrossFeedbackPrompt: consultFeedbackPrompt,
		ReasoningEffort:     consultReasoningEffort,
		Files:               consultFiles,
		Images:              consultImages,
	}
	if consultNoFeedback {
		disabled := false
		req.EnableCrossFeedback = &disabled
	}
	if cmd.Flags().Changed("temperature") {
		t := consultTemperature
		req.Temperature = &t
	}
	return req, nil
}

// parseModelSpec accepts "model" or "model[key=value,...]" with the keys
// temperature and reasoning_effort.
func parseModelSpec(raw string) (core.ModelSpec, error) {
	raw = strings.TrimSpace(raw)
	open := strings.IndexByte(raw, '[')
	if open < 0 {
		return core.ModelSpec{Model: raw}, nil
	}
	if !strings.HasSuffix(raw, "]") {
		return core.ModelSpec{}, fmt.Errorf("model %q: missing closing ']'", raw)
	}

	spec := core.ModelSpec{Model: raw[:open]}
	for _, kv := range strings.Split(raw[open+1:len(raw)-1], ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			return core.ModelSpec{}, fmt.Errorf("model %q: override %q is not key=value", raw, kv)
		}
		switch key {
		case "temperature":
			t, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return core.ModelSpec{}, fmt.Errorf("model %q: invalid temperature %q", raw, value)
			}
			spec.Temperature = &t
		case "reasoning_effort":
			spec.ReasoningEffort = value
		default:
			return core.ModelSpec{}, fmt.Errorf("model %q: unknown override %q", raw, key)
		}
	}
	return spec, nil
}

// commandContext returns the command's context or a background one when
// the command runs outside Execute (tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
