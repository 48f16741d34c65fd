// internal/daemon/host.go
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/colebrumley/amitrigger/internal/ami"
	"github.com/colebrumley/amitrigger/internal/config"
	"github.com/colebrumley/amitrigger/internal/engine"
	"github.com/colebrumley/amitrigger/internal/executor"
	"github.com/colebrumley/amitrigger/internal/logging"
	"github.com/colebrumley/amitrigger/internal/security"
	"github.com/colebrumley/amitrigger/internal/state"
	"github.com/colebrumley/amitrigger/internal/trigger"
)

const (
	maxOutputBytes    = 10 * 1024
	maxVariablesBytes = 4 * 1024
)

// host is the engine.Host of one definition.
type host struct {
	d   *Daemon
	def *config.TriggerDef
}

var _ engine.Host = (*host)(nil)

// PersistState stores the marker in the state database. Without a database
// the marker only lives in the engine.
func (h *host) PersistState(ctx context.Context, s engine.State) error {
	if h.d.stateDB == nil {
		return nil
	}
	return h.d.stateDB.SaveTriggerState(ctx, state.TriggerState{
		Trigger: s.Trigger,
		LastRun: s.LastRun,
		PassID:  s.PassID,
	})
}

// StartAction queues the definition's action. It declines while a previous
// action of the same trigger is queued or running. True means queued: an
// action still waiting for a slot at shutdown is recorded as dropped.
func (h *host) StartAction(ctx context.Context, cause *ami.Cause) bool {
	d := h.d
	logger := logging.WithTrigger(d.logger, h.def.Name)

	d.actionMu.Lock()
	if d.inFlight[h.def.Name] {
		d.actionMu.Unlock()
		logger.Warn("action already running, new images not acted on", "summary", cause.ShortSummary())
		return false
	}
	d.inFlight[h.def.Name] = true
	d.actionMu.Unlock()

	d.actions.Add(1)
	go func() {
		defer func() {
			d.actionMu.Lock()
			delete(d.inFlight, h.def.Name)
			d.actionMu.Unlock()
			d.actions.Done()
		}()

		select {
		case d.actionSem <- struct{}{}:
		case <-ctx.Done():
			logger.Info("action dropped (shutdown)", "summary", cause.ShortSummary())
			d.recordAction(ctx, h.def, cause, time.Now(), &executor.Result{
				State: state.ActionDropped,
				Error: "dropped at shutdown before the action started",
			})
			return
		}
		defer func() { <-d.actionSem }()

		d.runAction(ctx, h.def, cause)
	}()
	return true
}

// runAction executes the action with the cause's variables, retrying per
// the definition's on_failure policy, and records every attempt.
func (d *Daemon) runAction(ctx context.Context, def *config.TriggerDef, cause *ami.Cause) {
	logger := logging.WithTrigger(d.logger, def.Name)

	timeout := time.Duration(def.Action.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(d.config.Actions.TimeoutSeconds) * time.Second
	}
	req := executor.Request{
		Action:  def.Action,
		Vars:    cause.ExportVariables(),
		Timeout: timeout,
		DryRun:  def.DryRun,
	}

	logger.Info("starting action", "summary", cause.ShortSummary(), "command", def.Action.Command, "dry_run", def.DryRun)

	started := time.Now()
	res, err := executor.ExecuteWithRetry(ctx, req, def.OnFailure, func(r *executor.Result) {
		if r.Failed() && r.Attempt < def.OnFailure.RetryAttempts && def.OnFailure.Retry {
			logger.Warn("action failed, retrying", "attempt", r.Attempt+1,
				"max_attempts", def.OnFailure.RetryAttempts+1, "error", r.Error)
		}
		d.recordAction(ctx, def, cause, started, r)
		started = time.Now()
	})
	if err != nil {
		logger.Error("action could not run", "error", err)
		d.recordAction(ctx, def, cause, started, &executor.Result{
			State: executor.StateFailure,
			Error: err.Error(),
		})
		return
	}

	if res.Failed() {
		logger.Error("action failed", "state", res.State, "attempts", res.Attempt+1, "error", res.Error)
		return
	}
	logger.Info("action complete", "state", res.State, "duration", res.Duration, "attempts", res.Attempt+1)
}

// recordAction stores one attempt in the action history.
func (d *Daemon) recordAction(ctx context.Context, def *config.TriggerDef, cause *ami.Cause, started time.Time, res *executor.Result) {
	if d.stateDB == nil {
		return
	}

	output := security.ScrubOutput(res.Output)
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes]
	}

	vars := ""
	if data, err := json.Marshal(cause.ExportVariables().Map()); err == nil {
		vars = string(data)
		if len(vars) > maxVariablesBytes {
			vars = vars[:maxVariablesBytes]
		}
	}

	finished := time.Now()
	rec := state.ActionRecord{
		Trigger:      def.Name,
		PassID:       cause.ID,
		State:        res.State,
		StartedAt:    started,
		FinishedAt:   finished,
		DurationMs:   finished.Sub(started).Milliseconds(),
		RetryAttempt: res.Attempt,
		Summary:      cause.ShortSummary(),
		Variables:    vars,
		Error:        security.ScrubOutput(res.Error),
		Output:       output,
		DryRun:       def.DryRun,
	}

	// History must survive daemon shutdown cancelling ctx.
	if _, err := d.stateDB.RecordAction(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Warn("failed to record action", "trigger", def.Name, "error", err)
	}
}

// recordEvaluation stores the outcome of one pass.
func (d *Daemon) recordEvaluation(ctx context.Context, event trigger.Event, started time.Time, pass *engine.Pass, err error) {
	if d.stateDB == nil {
		return
	}

	rec := state.EvaluationRecord{
		Trigger:    event.Trigger,
		Source:     event.Source,
		Outcome:    evaluationOutcome(pass, err),
		StartedAt:  started,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if pass != nil {
		rec.PassID = pass.ID
		rec.Matches = pass.Matches()
		rec.ActionStarted = pass.ActionStarted
		if pass.Cause != nil {
			rec.ImageIDs = strings.Join(pass.Cause.ImageIDs(), ",")
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}

	if _, err := d.stateDB.RecordEvaluation(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Warn("failed to record evaluation", "trigger", event.Trigger, "error", err)
	}
}

func evaluationOutcome(pass *engine.Pass, err error) string {
	switch {
	case errors.Is(err, engine.ErrPassInProgress), errors.Is(err, engine.ErrClosed):
		return state.OutcomeSkipped
	case errors.Is(err, engine.ErrCatalog):
		return state.OutcomeCatalogError
	case errors.Is(err, engine.ErrPersist):
		return state.OutcomePersistError
	case err != nil:
		return state.OutcomeCatalogError
	case pass.Matches() > 0:
		return state.OutcomeMatched
	default:
		return state.OutcomeNoMatch
	}
}
