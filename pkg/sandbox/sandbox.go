package sandbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/weftwork/weft/pkg/log"
)

// Sandbox orchestrates snippet execution: static analysis first, then the
// remote executor when configured, falling back to the local subprocess on
// any remote failure. Both paths present the same contract to callers.
type Sandbox struct {
	remote Executor
	local  Executor
	logger *slog.Logger
}

// New creates a sandbox. remoteEndpoint may be empty, in which case every
// snippet runs locally. pythonPath may be empty to use "python3".
func New(remoteEndpoint, pythonPath string) *Sandbox {
	s := &Sandbox{
		local:  NewLocalExecutor(pythonPath),
		logger: log.WithModule("sandbox"),
	}

	if remoteEndpoint != "" {
		s.remote = NewRemoteExecutor(remoteEndpoint)
	}

	return s
}

// Run analyzes and executes a snippet against input data.
func (s *Sandbox) Run(ctx context.Context, code string, inputData any, timeout time.Duration) (*Result, error) {
	if err := Analyze(code); err != nil {
		return nil, err
	}

	if s.remote == nil {
		return s.local.Execute(ctx, code, inputData, timeout)
	}

	result, err := s.remote.Execute(ctx, code, inputData, timeout)
	if err == nil {
		return result, nil
	}

	s.logger.Warn("remote sandbox failed, falling back to local execution", "error", err)

	return s.local.Execute(ctx, code, inputData, timeout)
}
