package source

import (
	"context"
	"sort"

	"sourcebridge.dev/internal/logger"
)

// Facade is the single router from Source to its manager. The registry is
// built once at startup and read-only afterward; it is passed by
// dependency injection into every surface that routes tasks.
//
// The facade is the one fail-soft boundary in the core: any error raised by
// a manager during execution is converted into an error-carrying result
// instead of propagating. Inside managers, failures stay loud.
type Facade struct {
	runner   *Runner
	managers map[Source]SourceManager
}

// NewFacade builds the registry from the given managers.
func NewFacade(runner *Runner, managers ...SourceManager) *Facade {
	m := make(map[Source]SourceManager, len(managers))
	for _, mgr := range managers {
		m[mgr.Source()] = mgr
	}
	return &Facade{runner: runner, managers: m}
}

// Manager returns the manager registered for the source.
func (f *Facade) Manager(s Source) (SourceManager, error) {
	mgr, ok := f.managers[s]
	if !ok {
		return nil, &UnknownSourceError{Source: s}
	}
	return mgr, nil
}

// Managers returns all registered managers ordered by source tag, so
// reflection-driven consumers (MCP tool generation) are deterministic.
func (f *Facade) Managers() []SourceManager {
	out := make([]SourceManager, 0, len(f.managers))
	for _, mgr := range f.managers {
		out = append(out, mgr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source() < out[j].Source() })
	return out
}

// ExecuteTask routes the task to its manager and never returns an error:
// every failure surfaces as a single result carrying only the error string.
func (f *Facade) ExecuteTask(ctx context.Context, tr TimeRange, globals map[string]any, task Task) []TaskResult {
	mgr, err := f.Manager(task.Source)
	if err != nil {
		logger.L().Error("error while executing task", "source", task.Source, "error", err)
		return []TaskResult{ErrorResult(task.Source, err.Error())}
	}
	results, err := f.runner.ExecuteTask(ctx, mgr, tr, globals, task)
	if err != nil {
		logger.L().Error("error while executing task",
			"source", task.Source, "task_type", task.TaskType, "error", err)
		return []TaskResult{ErrorResult(task.Source, err.Error())}
	}
	return results
}

// TestConnection routes a connection test to the connector's source
// manager, converting any failure into (false, message).
func (f *Facade) TestConnection(ctx context.Context, conn *Connector) (bool, string) {
	mgr, err := f.Manager(conn.Type)
	if err != nil {
		return false, err.Error()
	}
	if err := f.runner.TestConnection(ctx, mgr, conn); err != nil {
		logger.L().Error("error while testing source connection",
			"source", conn.Type, "connector", conn.Name, "error", err)
		return false, err.Error()
	}
	return true, ""
}
