package source

import (
	"context"
	"encoding/json"
	"fmt"

	"sourcebridge.dev/internal/logger"
	"sourcebridge.dev/internal/transform"
)

// paramTimeseriesOffsets is the resolved-parameter key the offsets are
// copied onto for timeseries task types.
const paramTimeseriesOffsets = "timeseries_offsets"

// Runner drives the shared execute_task flow for every source manager:
// connector lookup, task resolution, executor invocation, and metadata
// attachment. Managers contribute only their descriptor maps and vendor
// processors.
type Runner struct {
	connectors ConnectorLookup
	engine     transform.Engine
}

// NewRunner creates a Runner. engine may be nil when no transformer
// sandbox is configured; tasks declaring a transformer then fail.
func NewRunner(connectors ConnectorLookup, engine transform.Engine) *Runner {
	return &Runner{connectors: connectors, engine: engine}
}

// ResolvedTask validates the task against the manager's descriptor map,
// substitutes global variables into the declared form fields, and copies
// timeseries offsets onto the resolved parameters for timeseries task
// types. Returns the resolved working copy, the descriptor, and the
// task-local variable map.
func (r *Runner) ResolvedTask(mgr SourceManager, globals map[string]any, task Task) (Task, TaskTypeDescriptor, map[string]any, error) {
	if task.Source == SourceUnknown || task.Source != mgr.Source() {
		return Task{}, TaskTypeDescriptor{}, nil,
			NewConfigurationError("applicable source not found for task: got %q, manager handles %q", task.Source, mgr.Source())
	}

	desc, ok := mgr.TaskTypes()[task.TaskType]
	if !ok {
		return Task{}, TaskTypeDescriptor{}, nil, &UnsupportedTaskTypeError{Source: task.Source, TaskType: task.TaskType}
	}
	// A descriptor missing its schema metadata is an internal defect in the
	// manager's table, not a user error.
	if desc.FormFields == nil {
		return Task{}, TaskTypeDescriptor{}, nil,
			NewConfigurationError("form fields not declared for task type %s in %s source manager", task.TaskType, task.Source)
	}
	if desc.ResultType == ResultTypeUnknown {
		return Task{}, TaskTypeDescriptor{}, nil,
			NewConfigurationError("result type not declared for task type %s in %s source manager", task.TaskType, task.Source)
	}
	if task.Params == nil && len(desc.FormFields) > 0 {
		return Task{}, TaskTypeDescriptor{}, nil,
			NewConfigurationError("no parameter definition for task type %s found in task", task.TaskType)
	}

	resolvedParams, taskLocal, err := ResolveVariables(desc.FormFields, globals, task.Params)
	if err != nil {
		return Task{}, TaskTypeDescriptor{}, nil, err
	}

	if desc.ResultType == ResultTypeTimeseries && len(task.ExecutionConfiguration.TimeseriesOffsets) > 0 {
		offsets := make([]int64, len(task.ExecutionConfiguration.TimeseriesOffsets))
		copy(offsets, task.ExecutionConfiguration.TimeseriesOffsets)
		resolvedParams[paramTimeseriesOffsets] = offsets
	}

	resolved := task
	resolved.Params = resolvedParams
	return resolved, desc, taskLocal, nil
}

// ExecuteTask runs the full per-manager execution flow. Failures are
// returned as errors; converting them into error-carrying results is the
// facade's job.
func (r *Runner) ExecuteTask(ctx context.Context, mgr SourceManager, tr TimeRange, globals map[string]any, task Task) ([]TaskResult, error) {
	var conn *Connector
	if task.ConnectorName != "" {
		if r.connectors == nil {
			return nil, NewConfigurationError("no loaded connections found")
		}
		var err error
		conn, err = r.connectors.Connector(task.ConnectorName)
		if err != nil {
			return nil, err
		}
	}

	resolved, desc, taskLocal, err := r.ResolvedTask(mgr, globals, task)
	if err != nil {
		return nil, err
	}

	results, err := desc.Executor(ctx, tr, resolved.Params, conn)
	if err != nil {
		return nil, fmt.Errorf("error while executing task for source %s: %w", resolved.Source, err)
	}

	for i := range results {
		if len(taskLocal) > 0 {
			results[i].TaskLocalVariables = taskLocal
		}
		results[i].Status = StatusFinished
		if fn := resolved.ExecutionConfiguration.TransformerFn; fn != nil {
			output, err := r.applyTransformer(ctx, results[i], *fn)
			if err != nil {
				return nil, fmt.Errorf("error while executing task for source %s: %w", resolved.Source, err)
			}
			results[i].TransformerOutput = output
		}
	}
	return results, nil
}

// applyTransformer serializes the result and runs the configured
// transformer engine against it.
func (r *Runner) applyTransformer(ctx context.Context, result TaskResult, fn transform.Function) (map[string]any, error) {
	asMap, err := resultToMap(result)
	if err != nil {
		return nil, err
	}
	return transform.Apply(ctx, r.engine, asMap, fn)
}

// resultToMap round-trips a result through JSON into a generic map for the
// transformer boundary.
func resultToMap(result TaskResult) (map[string]any, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("serialize task result: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("deserialize task result: %w", err)
	}
	return m, nil
}

// TestConnection routes a connection test through the manager, logging the
// attempt with source context.
func (r *Runner) TestConnection(ctx context.Context, mgr SourceManager, conn *Connector) error {
	logger.L().Debug("testing source connection", "source", mgr.Source(), "connector", conn.Name)
	return mgr.TestConnection(ctx, conn)
}
