package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	nodex "github.com/tanpawarit/agent-squad-router/agent/nodes/orchestrator"
	"go.opentelemetry.io/otel/codes"
)

func (o *Orchestrator) compileRouteGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, *nodex.Response], error) {
	graph := compose.NewGraph[nodex.GraphInput, *nodex.Response]()
	maxHistory := o.cfg.MaxMessagePairsPerAgent * 2

	if err := graph.AddLambdaNode("validate_request",
		phase(o, "validate_request", func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("fetch_session_history",
		phase(o, "fetch_session_history", func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.FetchSessionHistory(ctx, in, o.storage)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node fetch_session_history: %w", err)
	}

	if err := graph.AddLambdaNode("classify",
		phase(o, "classify", func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Classify(ctx, in, nodex.ClassifyOptions{
				Classifier:    o.classifier,
				MaxRetries:    o.cfg.MaxRetries,
				RetryInterval: o.cfg.ClassifierRetryInterval,
				ErrorMessage:  o.cfg.ClassificationErrorMessage,
				Logger:        o.logger,
				LogChat:       o.cfg.LogClassifierChat,
				LogRawOutput:  o.cfg.LogClassifierRawOutput,
				LogOutput:     o.cfg.LogClassifierOutput,
			})
		}),
	); err != nil {
		return nil, fmt.Errorf("add node classify: %w", err)
	}

	if err := graph.AddLambdaNode("resolve_agent",
		phase(o, "resolve_agent", func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ResolveAgent(in, nodex.ResolveOptions{
				DefaultAgent:    o.defaultAgent,
				UseDefaultAgent: o.cfg.UseDefaultAgentIfNoneIdentified,
				NoAgentMessage:  o.cfg.NoSelectedAgentMessage,
				Logger:          o.logger,
			})
		}),
	); err != nil {
		return nil, fmt.Errorf("add node resolve_agent: %w", err)
	}

	if err := graph.AddLambdaNode("reject",
		phase(o, "reject", func(ctx context.Context, in *nodex.GraphState) (*nodex.Response, error) {
			return nodex.Reject(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node reject: %w", err)
	}

	if err := graph.AddLambdaNode("fetch_agent_history",
		phase(o, "fetch_agent_history", func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.FetchAgentHistory(ctx, in, o.storage, maxHistory)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node fetch_agent_history: %w", err)
	}

	if err := graph.AddLambdaNode("dispatch_agent",
		phase(o, "dispatch_agent", func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.DispatchAgent(ctx, in, nodex.DispatchOptions{
				ErrorMessage: o.cfg.GeneralRoutingErrorMessage,
				Logger:       o.logger,
				LogAgentChat: o.cfg.LogAgentChat,
			})
		}),
	); err != nil {
		return nil, fmt.Errorf("add node dispatch_agent: %w", err)
	}

	if err := graph.AddLambdaNode("normalize_response",
		phase(o, "normalize_response", func(ctx context.Context, in *nodex.GraphState) (*nodex.Response, error) {
			return nodex.NormalizeResponse(ctx, in, nodex.PersistOptions{
				Store:      o.storage,
				MaxHistory: maxHistory,
				Logger:     o.logger,
			})
		}),
	); err != nil {
		return nil, fmt.Errorf("add node normalize_response: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "fetch_session_history"},
		{"fetch_session_history", "classify"},
		{"classify", "resolve_agent"},
		{"reject", compose.END},
		{"fetch_agent_history", "dispatch_agent"},
		{"dispatch_agent", "normalize_response"},
		{"normalize_response", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	branch := compose.NewGraphBranch(func(ctx context.Context, in *nodex.GraphState) (string, error) {
		if in.Dispatchable() {
			return "fetch_agent_history", nil
		}
		return "reject", nil
	}, map[string]bool{"fetch_agent_history": true, "reject": true})
	if err := graph.AddBranch("resolve_agent", branch); err != nil {
		return nil, fmt.Errorf("add branch resolve_agent: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.route_request"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}

// phase wraps a node with a span and records its duration.
func phase[I, O any](o *Orchestrator, name string, fn func(context.Context, I) (O, error)) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in I) (O, error) {
		ctx, span := o.tracer.Start(ctx, "orchestrator."+name)
		defer span.End()

		start := time.Now()
		out, err := fn(ctx, in)
		o.timings.Record(name, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return out, err
	})
}
