package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/eleven-am/gantry/internal/adapters/approval"
	"github.com/eleven-am/gantry/internal/core"
	"github.com/eleven-am/gantry/internal/definition"
	"github.com/eleven-am/gantry/internal/domain"
)

// outcomeError makes a finished but unsuccessful build exit non-zero.
type outcomeError struct {
	outcome domain.RunOutcome
}

func (e *outcomeError) Error() string {
	return "build finished with outcome " + string(e.outcome)
}

func exitCode(err error) int {
	var oe *outcomeError
	if errors.As(err, &oe) {
		switch oe.outcome {
		case domain.RunOutcomeUnstable:
			return 3
		case domain.RunOutcomeAborted:
			return 4
		}
	}
	return 1
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Run one pipeline locally and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE:  runPipeline,
	}
	flags := cmd.Flags()
	flags.StringArrayP("param", "p", nil, "build parameter as key=value (repeatable)")
	flags.StringArrayP("env", "e", nil, "environment variable as key=value (repeatable)")
	flags.String("commit", "", "commit reference of the build")
	flags.String("auto-approve", "", "approve every gate as this approver")
	flags.String("format", "pretty", "output format (pretty|json)")
	return cmd
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cfg.Pipelines.Dir = ""

	def, err := definition.Load(args[0])
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	rawParams, _ := flags.GetStringArray("param")
	params, err := parsePairs("--param", rawParams)
	if err != nil {
		return err
	}
	rawEnv, _ := flags.GetStringArray("env")
	env, err := parsePairs("--env", rawEnv)
	if err != nil {
		return err
	}
	commit, _ := flags.GetString("commit")
	approver, _ := flags.GetString("auto-approve")
	format, _ := flags.GetString("format")

	var opts []core.Option
	if approver != "" {
		opts = append(opts, core.WithApprovalTransport(approval.NewAutoApprover(approver)))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := core.NewManager(cfg, opts...)
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Stop()

	buildID, err := manager.Trigger(ctx, core.TriggerRequest{
		Definition:  def,
		CommitRef:   commit,
		Parameters:  params,
		Environment: env,
	})
	if err != nil && buildID == "" {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = manager.Cancel(buildID)
	}()

	record, waitErr := manager.Wait(context.WithoutCancel(ctx), buildID)
	if waitErr != nil {
		return waitErr
	}
	if err := render(cmd.OutOrStdout(), format, record); err != nil {
		return err
	}
	if record.Outcome != domain.RunOutcomeSuccess {
		return &outcomeError{outcome: record.Outcome}
	}
	return nil
}

func parsePairs(flag string, raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, pair := range raw {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parse %s %q: expected key=value", flag, pair)
		}
		out[key] = value
	}
	return out, nil
}

func render(w io.Writer, format string, record *domain.RunRecord) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	case "pretty":
		return renderPretty(w, record)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func renderPretty(w io.Writer, record *domain.RunRecord) error {
	fmt.Fprintf(w, "Build %s of %s: %s (%s)\n", record.BuildID, record.Pipeline,
		strings.ToUpper(string(record.Outcome)), record.Duration().Round(1e6))
	if record.Cause != nil {
		fmt.Fprintf(w, "Cause: %s\n", record.Cause.Detail)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSTATE\tDURATION\tDETAIL")
	for _, s := range record.Stages {
		if s.StageID == record.Root {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.StageID, s.State, s.Duration().Round(1e6), firstLine(s.ExitDetail))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(record.Artifacts) > 0 {
		names := make([]string, 0, len(record.Artifacts))
		for _, a := range record.Artifacts {
			names = append(names, a.Name)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "Artifacts: %s\n", strings.Join(names, ", "))
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
