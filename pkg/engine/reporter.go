package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
)

// Reporter renders run progress and outcomes: one log line per operation as
// it reaches a terminal status, a final summary, and the structured report.
// Console logging gives the human form; JSON logging gives the structured
// form. Secrets never reach either: operation payloads redact on serialization
// and log lines carry entity names only.
type Reporter struct {
	log zerolog.Logger
}

// NewReporter creates a Reporter logging through the given logger.
func NewReporter(log zerolog.Logger) *Reporter {
	return &Reporter{log: log}
}

// OperationOutcome logs one line for a terminal operation. Wire it to
// Executor.OnOutcome to stream outcomes as execution proceeds.
func (r *Reporter) OperationOutcome(op *Operation) {
	switch op.Status {
	case StatusSucceeded:
		r.log.Info().
			Str("operation", op.ID).
			Str("entity", op.Entity).
			Int("attempts", op.Attempts).
			Dur("duration", op.Duration).
			Msg("applied")
	case StatusSkipped:
		ev := r.log.Info().
			Str("operation", op.ID).
			Str("entity", op.Entity).
			Str("reason", string(op.SkipReason))
		if op.BlockedBy != "" {
			ev = ev.Str("blocked_by", op.BlockedBy)
		}
		ev.Msg(op.SkipReason.Display())
	case StatusFailedFatal:
		r.log.Error().
			Str("operation", op.ID).
			Str("entity", op.Entity).
			Int("attempts", op.Attempts).
			Err(op.Error).
			Msg("failed")
	}
}

// Summarize logs the final run summary.
func (r *Reporter) Summarize(report *ExecutionReport) {
	s := report.Summary
	ev := r.log.Info()
	if report.Status.Fatal() {
		ev = r.log.Error()
	}
	ev.Str("run_id", report.RunID).
		Str("host", report.Host).
		Str("status", string(report.Status)).
		Int("applied", s.Applied).
		Int("noop", s.NoOp).
		Int("blocked", s.Blocked).
		Int("timed_out", s.TimedOut).
		Int("failed", s.Failed).
		Int("retries", s.Retries).
		Dur("duration", report.Duration).
		Msg("run summary")
}

// WriteJSON writes the structured report as indented JSON.
func (r *Reporter) WriteJSON(w io.Writer, report *ExecutionReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteText writes a human-readable table of every operation outcome.
func (r *Reporter) WriteText(w io.Writer, report *ExecutionReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "OPERATION\tENTITY\tSTATUS\tATTEMPTS\tDETAIL\n")
	for _, op := range report.Operations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			op.ID, op.Entity, statusCell(op), op.Attempts, detailCell(op))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	s := report.Summary
	_, err := fmt.Fprintf(w, "\n%s: %d applied, %d no-op, %d blocked, %d timed out, %d failed (%s)\n",
		report.Status, s.Applied, s.NoOp, s.Blocked, s.TimedOut, s.Failed,
		report.Duration.Round(time.Millisecond))
	return err
}

// WritePlan writes a human-readable rendering of a computed plan.
func (r *Reporter) WritePlan(w io.Writer, plan *Plan) error {
	if plan.Empty() {
		_, err := fmt.Fprintf(w, "No changes. Host %s matches the declared configuration (%d entities already converged).\n",
			plan.Host, len(plan.NoOps))
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tOPERATION\tENTITY\tDEPENDS ON\n")
	for i, op := range plan.Operations {
		deps := "-"
		if len(op.DependsOn) > 0 {
			deps = ""
			for j, d := range op.DependsOn {
				if j > 0 {
					deps += ", "
				}
				deps += d
			}
		}
		marker := ""
		if op.Status == StatusFailedFatal {
			marker = " (conflict)"
		}
		fmt.Fprintf(tw, "%d\t%s%s\t%s\t%s\n", i+1, op.ID, marker, op.Entity, deps)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nPlan: %d operation(s), %d already converged.\n",
		len(plan.Operations), len(plan.NoOps))
	return err
}

// WritePlanJSON writes the plan as indented JSON.
func (r *Reporter) WritePlanJSON(w io.Writer, plan *Plan) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(plan)
}

func statusCell(op Operation) string {
	if op.Status == StatusSkipped {
		return op.SkipReason.Display()
	}
	return string(op.Status)
}

func detailCell(op Operation) string {
	switch {
	case op.Error != nil:
		return op.Error.Message
	case op.BlockedBy != "":
		return "blocked by " + op.BlockedBy
	default:
		return "-"
	}
}
