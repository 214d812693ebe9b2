package ipfshelper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/scipfs/scipfs/fault"
)

// envelope is the single JSON object every helper invocation emits.
type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// run invokes one helper operation and returns the success payload.
//
// The helper emits its envelope on stdout and exits zero on success. On
// failure it exits non-zero; the envelope (or plain diagnostic text) is on
// stderr. Both forms are handled. A context deadline kills the subprocess
// and surfaces as fault.Timeout.
func (h *Helper) run(ctx context.Context, stdin []byte, operation string, args ...string) (json.RawMessage, error) {
	op := "bridge." + operation

	argv := append([]string{"-api", h.apiAddr, operation}, args...)
	cmd := exec.CommandContext(ctx, h.bin, argv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	start := time.Now()
	err := cmd.Run()
	h.log.Debug("helper %s finished in %s (err=%v)", operation, time.Since(start).Round(time.Millisecond), err)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fault.Wrap(fault.Timeout, op, "helper did not complete within deadline", ctx.Err())
	}
	if err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			// The process could not be started at all.
			return nil, fault.Wrap(fault.HelperUnavailable, op, "helper could not be executed", err)
		}
		// Non-zero exit: the helper reports its error envelope on stderr.
		if env, perr := parseEnvelope(stderr.Bytes()); perr == nil && !env.Success {
			return nil, classifyDaemonError(op, env.Error, err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "helper exited non-zero without diagnostics"
		}
		return nil, fault.Wrap(fault.OperationFailed, op, msg, err)
	}

	env, perr := parseEnvelope(stdout.Bytes())
	if perr != nil {
		return nil, fault.Wrap(fault.MalformedResponse, op, "helper emitted unparseable output", perr)
	}
	if !env.Success {
		return nil, classifyDaemonError(op, env.Error, nil)
	}
	return env.Data, nil
}

func parseEnvelope(out []byte) (envelope, error) {
	var env envelope
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return env, errors.New("empty output")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(&env); err != nil {
		return env, err
	}
	if !env.Success && env.Error == "" {
		return env, errors.New("failure envelope missing error field")
	}
	return env, nil
}

// classifyDaemonError maps a reported helper error onto the taxonomy.
// Resolution misses and connectivity failures get their own kinds so
// callers can offer "not propagated yet" or "daemon down" guidance.
func classifyDaemonError(op, msg string, cause error) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "could not resolve name"),
		strings.Contains(lower, "record not found"):
		return fault.Wrap(fault.NotFound, op, msg, cause)
	case strings.Contains(lower, "failed to connect"),
		strings.Contains(lower, "connection check failed"),
		strings.Contains(lower, "connection refused"):
		return fault.Wrap(fault.DaemonUnreachable, op, msg, cause)
	case strings.Contains(lower, "version check failed"):
		return fault.Wrap(fault.VersionIncompatible, op, msg, cause)
	default:
		return fault.Wrap(fault.OperationFailed, op, msg, cause)
	}
}

// withTimeout applies d unless the caller already set a deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
