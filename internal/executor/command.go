// internal/executor/command.go
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/colebrumley/amitrigger/internal/ami"
	"github.com/colebrumley/amitrigger/internal/config"
	"github.com/colebrumley/amitrigger/internal/template"
)

// Result states.
const (
	StateSuccess = "success"
	StateFailure = "failure"
	StateTimeout = "timeout"
	StateDryRun  = "dry_run"
)

// Result represents the outcome of one action run
type Result struct {
	State    string
	Output   string
	Error    string
	ExitCode int
	Duration time.Duration
	Attempt  int
}

func (r *Result) Failed() bool {
	return r.State == StateFailure || r.State == StateTimeout
}

// Request is an action bound to the variables of one Cause.
type Request struct {
	Action  config.Action
	Vars    ami.Variables
	Timeout time.Duration
	DryRun  bool
}

// BuildCommand resolves the command line and environment for a request.
// Args and action env values may reference {{variables}}; the Cause
// variables are appended to the environment unchanged and take precedence.
func BuildCommand(ctx context.Context, req Request) *exec.Cmd {
	vars := req.Vars.Map()
	args := template.ExpandAll(req.Action.Args, vars)

	cmd := exec.CommandContext(ctx, req.Action.Command, args...)
	cmd.Dir = req.Action.WorkingDir
	cmd.Env = buildEnv(os.Environ(), req.Action.Env, req.Vars)
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

func buildEnv(base []string, extra map[string]string, vars ami.Variables) []string {
	env := append([]string(nil), base...)

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m := vars.Map()
	for _, k := range keys {
		env = append(env, k+"="+template.Expand(extra[k], m))
	}
	return append(env, vars.Environ()...)
}

// Execute runs the action once. Command failures are reported in the
// Result; the error is only set when the command could not be prepared.
func Execute(ctx context.Context, req Request) (*Result, error) {
	if req.Action.Command == "" {
		return nil, errors.New("action command is empty")
	}

	if req.DryRun {
		return dryRun(req), nil
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := BuildCommand(ctx, req)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Output:   out.String(),
		Duration: time.Since(start),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	switch {
	case err == nil:
		res.State = StateSuccess
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.State = StateTimeout
		res.Error = fmt.Sprintf("action timed out after %s", req.Timeout)
	default:
		res.State = StateFailure
		res.Error = err.Error()
	}
	return res, nil
}

func dryRun(req Request) *Result {
	args := template.ExpandAll(req.Action.Args, req.Vars.Map())
	var b strings.Builder
	fmt.Fprintf(&b, "dry run: %s %s\n", req.Action.Command, strings.Join(args, " "))
	for _, v := range req.Vars {
		fmt.Fprintf(&b, "  %s=%s\n", v.Name, v.Value)
	}
	return &Result{State: StateDryRun, Output: b.String()}
}

// ExecuteWithRetry runs the action and, when policy.Retry is set, repeats
// failed or timed-out runs with a fixed delay. onAttempt sees every
// attempt's result, including the last.
func ExecuteWithRetry(ctx context.Context, req Request, policy config.OnFailure, onAttempt func(*Result)) (*Result, error) {
	var bo backoff.BackOff = &backoff.StopBackOff{}
	if policy.Retry && policy.RetryAttempts > 0 {
		delay := time.Duration(policy.RetryDelaySeconds) * time.Second
		bo = backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(policy.RetryAttempts))
	}

	var last *Result
	attempt := 0
	err := backoff.Retry(func() error {
		res, err := Execute(ctx, req)
		if err != nil {
			return backoff.Permanent(err)
		}
		res.Attempt = attempt
		attempt++
		last = res
		if onAttempt != nil {
			onAttempt(res)
		}
		if res.Failed() {
			return errors.New(res.Error)
		}
		return nil
	}, backoff.WithContext(bo, ctx))

	if last == nil {
		return nil, err
	}
	return last, nil
}
