package cmd

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"

	"github.com/weftwork/weft/pkg/clients"
	"github.com/weftwork/weft/pkg/datasource"
	"github.com/weftwork/weft/pkg/engine"
	"github.com/weftwork/weft/pkg/otelhelper"
	"github.com/weftwork/weft/pkg/persistence"
	"github.com/weftwork/weft/pkg/sandbox"
)

// EngineOptions carries the external collaborator configuration shared by the
// API and worker binaries.
type EngineOptions struct {
	SandboxEndpoint string
	PythonPath      string
	DataSourceURL   string
	LLMEndpoint     string
	LLMAPIKey       string
	ServiceName     string
}

// NewEngine builds the graph engine with its node collaborators: the Python
// sandbox, the tabular data source, the LLM client and the HTTP proxy.
func NewEngine(ctx context.Context, logger *slog.Logger, store persistence.Persistence, options EngineOptions) *engine.Engine {
	snippets := sandbox.New(options.SandboxEndpoint, options.PythonPath)

	var source datasource.DataSource = datasource.Static{}
	if options.DataSourceURL != "" {
		source = datasource.NewHTTPDataSource(options.DataSourceURL)
	}

	llm := clients.NewChatClient(options.LLMEndpoint, options.LLMAPIKey)
	proxy := clients.NewProxyClient()

	var tracer trace.Tracer

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		var err error

		tracer, err = otelhelper.NewTracer(ctx, options.ServiceName)
		if err != nil {
			logger.WarnContext(ctx, "failed to initialize tracer, continuing without tracing", "error", err)

			tracer = nil
		}
	}

	evaluator := engine.NewEvaluator(snippets, source, llm, proxy)

	return engine.NewEngine(store, evaluator, tracer)
}
