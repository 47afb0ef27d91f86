package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requirePython(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestLocalExecutorRunsSnippet(t *testing.T) {
	requirePython(t)

	executor := NewLocalExecutor("")

	result, err := executor.Execute(context.Background(),
		"def process(data):\n    return {'doubled': data['n'] * 2}",
		map[string]any{"n": 21}, 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"doubled": float64(42)}, result.Value)
}

func TestLocalExecutorCapturesOutput(t *testing.T) {
	requirePython(t)

	executor := NewLocalExecutor("")

	result, err := executor.Execute(context.Background(),
		"def process(data):\n    print('hello from snippet')\n    return None",
		nil, 10*time.Second)
	require.NoError(t, err)

	assert.Contains(t, result.Output, "hello from snippet")
}

func TestLocalExecutorReportsRuntimeFault(t *testing.T) {
	requirePython(t)

	executor := NewLocalExecutor("")

	_, err := executor.Execute(context.Background(),
		"def process(data):\n    return 1 / 0",
		nil, 10*time.Second)
	require.Error(t, err)

	assert.Equal(t, KindRuntimeFault, KindOf(err))
	assert.Contains(t, err.Error(), "ZeroDivisionError")
}

func TestLocalExecutorReportsMissingEntryPoint(t *testing.T) {
	requirePython(t)

	executor := NewLocalExecutor("")

	_, err := executor.Execute(context.Background(),
		"x = 1", nil, 10*time.Second)
	require.Error(t, err)

	assert.Equal(t, KindMalformedResult, KindOf(err))
}

func TestLocalExecutorSoftTimeout(t *testing.T) {
	requirePython(t)

	executor := NewLocalExecutor("")

	started := time.Now()
	_, err := executor.Execute(context.Background(),
		"import time\n\ndef process(data):\n    time.sleep(30)\n    return None",
		nil, 1*time.Second)
	require.Error(t, err)

	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Less(t, time.Since(started), 10*time.Second)
}

func TestLocalExecutorHardKillWhenAlarmSwallowed(t *testing.T) {
	requirePython(t)

	executor := NewLocalExecutor("")

	// The alarm raises inside the loop and gets swallowed, so only the
	// parent-side deadline at timeout+5s can stop this snippet.
	started := time.Now()
	_, err := executor.Execute(context.Background(),
		"def process(data):\n    while True:\n        try:\n            pass\n        except Exception:\n            pass",
		nil, 1*time.Second)
	require.Error(t, err)

	elapsed := time.Since(started)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.GreaterOrEqual(t, elapsed, 6*time.Second)
	assert.Less(t, elapsed, 10*time.Second)
}

func TestLocalExecutorBlocksImportAtRuntime(t *testing.T) {
	requirePython(t)

	executor := NewLocalExecutor("")

	// Static analysis is bypassed here on purpose: the harness must hold the
	// same import line on its own.
	_, err := executor.Execute(context.Background(),
		"def process(data):\n    mod = __builtins__['__import__']('socket')\n    return str(mod)",
		nil, 10*time.Second)
	require.Error(t, err)

	assert.Equal(t, KindRuntimeFault, KindOf(err))
	assert.Contains(t, err.Error(), "not allowed")
}

func TestParseHarnessResultKinds(t *testing.T) {
	tests := []struct {
		raw  string
		kind FailureKind
	}{
		{`{"ok": false, "kind": "timeout", "error": "too slow"}`, KindTimeout},
		{`{"ok": false, "kind": "malformed", "error": "no process"}`, KindMalformedResult},
		{`{"ok": false, "kind": "runtime", "error": "boom"}`, KindRuntimeFault},
		{`not json at all`, KindRuntimeFault},
	}

	for _, tc := range tests {
		_, err := parseHarnessResult([]byte(tc.raw))
		require.Error(t, err, tc.raw)
		assert.Equal(t, tc.kind, KindOf(err), tc.raw)
	}
}

func TestRemoteExecutorSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"statusCode": 200, "body": "{\"success\": true, \"result\": {\"n\": 7}, \"output\": \"hi\"}"}`))
	}))
	defer server.Close()

	executor := NewRemoteExecutor(server.URL)

	result, err := executor.Execute(context.Background(), "def process(data):\n    return data", nil, 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"n": float64(7)}, result.Value)
	assert.Equal(t, "hi", result.Output)
}

func TestRemoteExecutorFailureIsTyped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "error": "NameError: nope"}`))
	}))
	defer server.Close()

	executor := NewRemoteExecutor(server.URL)

	_, err := executor.Execute(context.Background(), "def process(data):\n    return nope", nil, 10*time.Second)
	require.Error(t, err)

	assert.Equal(t, KindRuntimeFault, KindOf(err))
}

func TestSandboxRejectsBeforeExecution(t *testing.T) {
	// A violating snippet must never reach an executor, so no python3 and no
	// remote endpoint are needed here.
	s := New("", "/nonexistent/python")

	_, err := s.Run(context.Background(), "import os\n\ndef process(data):\n    return None", nil, time.Second)
	require.Error(t, err)

	assert.Equal(t, KindSecurityViolation, KindOf(err))
}

func TestSandboxFallsBackToLocal(t *testing.T) {
	requirePython(t)

	// Endpoint refuses connections: transport failure, so the snippet runs
	// locally instead.
	s := New("http://127.0.0.1:1", "")

	result, err := s.Run(context.Background(), "def process(data):\n    return 'local'", nil, 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "local", result.Value)
}

func TestSandboxRemoteFailureFallsBackToLocal(t *testing.T) {
	requirePython(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "error": "boom"}`))
	}))
	defer server.Close()

	s := New(server.URL, "")

	result, err := s.Run(context.Background(), "def process(data):\n    return 'recovered'", nil, 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "recovered", result.Value)
}
