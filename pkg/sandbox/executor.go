package sandbox

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/weftwork/weft/pkg/log"
)

//go:embed harness.py
var harnessSource []byte

const (
	// DefaultTimeout is the soft execution limit enforced inside the
	// interpreter via signal.alarm.
	DefaultTimeout = 30 * time.Second

	// hardKillGrace is added on top of the soft limit before the parent
	// kills the subprocess outright.
	hardKillGrace = 5 * time.Second
)

// Result is the outcome of a successful snippet run.
type Result struct {
	Value  any    `json:"value"`
	Output string `json:"output"`
	Stderr string `json:"stderr"`
}

// Executor runs an already-analyzed snippet against input data.
type Executor interface {
	Execute(ctx context.Context, code string, inputData any, timeout time.Duration) (*Result, error)
}

// LocalExecutor runs snippets in an isolated local Python subprocess.
type LocalExecutor struct {
	pythonPath string
	logger     *slog.Logger
}

// NewLocalExecutor creates a local executor using the given interpreter, or
// "python3" when empty.
func NewLocalExecutor(pythonPath string) *LocalExecutor {
	if pythonPath == "" {
		pythonPath = "python3"
	}

	return &LocalExecutor{
		pythonPath: pythonPath,
		logger:     log.WithModule("sandbox"),
	}
}

type harnessPayload struct {
	Code           string `json:"code"`
	InputData      any    `json:"input_data"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type harnessResult struct {
	OK     bool            `json:"ok"`
	Kind   string          `json:"kind"`
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
	Output string          `json:"output"`
	Stderr string          `json:"stderr"`
}

// Execute writes the harness to a temp file, runs it in isolated mode and
// parses the single JSON result line from its stdout. The subprocess gets a
// hard deadline of timeout + 5s; hitting it counts as a timeout failure.
func (e *LocalExecutor) Execute(ctx context.Context, code string, inputData any, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	dir, err := os.MkdirTemp("", "weft-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox directory: %w", err)
	}

	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("failed to clean sandbox directory", "error", err)
		}
	}()

	harnessFile := filepath.Join(dir, "harness.py")
	if err := os.WriteFile(harnessFile, harnessSource, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write sandbox harness: %w", err)
	}

	payload, err := json.Marshal(harnessPayload{
		Code:           code,
		InputData:      inputData,
		TimeoutSeconds: int(timeout.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sandbox payload: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout+hardKillGrace)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.pythonPath, "-I", harnessFile)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Dir = dir
	cmd.Env = []string{}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()

	e.logger.Debug("sandbox subprocess finished",
		"duration", time.Since(started),
		"error", runErr)

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, newError(KindTimeout, "subprocess killed after exceeding the hard limit of %s", timeout+hardKillGrace)
		}

		// The harness reports snippet failures on stdout with exit code 0;
		// any other exit means the interpreter itself fell over.
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("failed to run sandbox subprocess: %w", runErr)
		}

		return nil, newError(KindRuntimeFault, "sandbox subprocess exited with %s: %s", exitErr, firstLine(stderr.String()))
	}

	return parseHarnessResult(stdout.Bytes())
}

func parseHarnessResult(raw []byte) (*Result, error) {
	var parsed harnessResult
	if err := json.Unmarshal(bytes.TrimSpace(raw), &parsed); err != nil {
		return nil, newError(KindRuntimeFault, "sandbox subprocess produced an unparseable result: %v", err)
	}

	if !parsed.OK {
		switch parsed.Kind {
		case "timeout":
			return nil, newError(KindTimeout, "%s", parsed.Error)
		case "malformed":
			return nil, newError(KindMalformedResult, "%s", parsed.Error)
		default:
			return nil, newError(KindRuntimeFault, "%s", parsed.Error)
		}
	}

	var value any
	if len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, &value); err != nil {
			return nil, newError(KindMalformedResult, "sandbox result is not valid JSON: %v", err)
		}
	}

	return &Result{
		Value:  value,
		Output: parsed.Output,
		Stderr: parsed.Stderr,
	}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}

	return s
}
