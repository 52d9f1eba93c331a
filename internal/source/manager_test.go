package source

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sourcebridge.dev/internal/transform"
)

const testTaskType = "fetch_widget"

// fakeManager is a minimal SourceManager for exercising the runner and
// facade without a vendor API.
type fakeManager struct {
	src        Source
	executor   Executor
	resultType ResultType
	testErr    error
}

func (m *fakeManager) Source() Source { return m.src }

func (m *fakeManager) TaskTypes() map[string]TaskTypeDescriptor {
	rt := m.resultType
	if rt == ResultTypeUnknown {
		rt = ResultTypeText
	}
	return map[string]TaskTypeDescriptor{
		testTaskType: {
			Executor:   m.executor,
			ResultType: rt,
			FormFields: []FormField{
				{KeyName: "widget", DataType: DataTypeString},
			},
		},
	}
}

func (m *fakeManager) TestConnection(ctx context.Context, conn *Connector) error { return m.testErr }

type fakeLookup struct {
	conns map[string]*Connector
}

func (l *fakeLookup) Connector(name string) (*Connector, error) {
	conn, ok := l.conns[name]
	if !ok {
		return nil, NewConfigurationError("no loaded connections found for connector: %s", name)
	}
	return conn, nil
}

func (l *fakeLookup) BySource(s Source) []*Connector {
	var out []*Connector
	for _, c := range l.conns {
		if c.Type == s {
			out = append(out, c)
		}
	}
	return out
}

func textExecutor(output string) Executor {
	return func(ctx context.Context, tr TimeRange, params map[string]any, conn *Connector) ([]TaskResult, error) {
		return []TaskResult{{Source: SourceGrafana, Type: ResultTypeText, Text: &TextResult{Output: output}}}, nil
	}
}

func TestResolvedTask(t *testing.T) {
	mgr := &fakeManager{src: SourceGrafana, executor: textExecutor("ok")}
	runner := NewRunner(&fakeLookup{}, nil)

	tests := []struct {
		name      string
		task      Task
		wantError string
	}{
		{
			name: "valid task",
			task: Task{Source: SourceGrafana, TaskType: testTaskType, Params: map[string]any{"widget": "w"}},
		},
		{
			name:      "source mismatch",
			task:      Task{Source: SourceDatadog, TaskType: testTaskType, Params: map[string]any{}},
			wantError: "applicable source not found",
		},
		{
			name:      "empty source",
			task:      Task{TaskType: testTaskType, Params: map[string]any{}},
			wantError: "applicable source not found",
		},
		{
			name:      "unsupported task type",
			task:      Task{Source: SourceGrafana, TaskType: "no_such_type", Params: map[string]any{}},
			wantError: "not supported",
		},
		{
			name:      "missing params",
			task:      Task{Source: SourceGrafana, TaskType: testTaskType},
			wantError: "no parameter definition",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := runner.ResolvedTask(mgr, nil, tt.task)
			if tt.wantError == "" {
				if err != nil {
					t.Fatalf("ResolvedTask() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantError) {
				t.Fatalf("ResolvedTask() error = %v, want containing %q", err, tt.wantError)
			}
		})
	}
}

func TestResolvedTaskCopiesTimeseriesOffsets(t *testing.T) {
	mgr := &fakeManager{src: SourceGrafana, executor: textExecutor("ok"), resultType: ResultTypeTimeseries}
	runner := NewRunner(&fakeLookup{}, nil)

	task := Task{
		Source:   SourceGrafana,
		TaskType: testTaskType,
		Params:   map[string]any{"widget": "w"},
		ExecutionConfiguration: ExecutionConfiguration{
			TimeseriesOffsets: []int64{86400, 604800},
		},
	}
	resolved, _, _, err := runner.ResolvedTask(mgr, nil, task)
	if err != nil {
		t.Fatalf("ResolvedTask() error = %v", err)
	}
	offsets, ok := resolved.Params["timeseries_offsets"].([]int64)
	if !ok || len(offsets) != 2 || offsets[0] != 86400 || offsets[1] != 604800 {
		t.Errorf("resolved offsets = %v", resolved.Params["timeseries_offsets"])
	}
	if task.Params["timeseries_offsets"] != nil {
		t.Error("input task params mutated")
	}
}

func TestRunnerExecuteTask(t *testing.T) {
	conn := &Connector{Name: "g1", Type: SourceGrafana}
	lookup := &fakeLookup{conns: map[string]*Connector{"g1": conn}}

	var gotConn *Connector
	mgr := &fakeManager{src: SourceGrafana, executor: func(ctx context.Context, tr TimeRange, params map[string]any, c *Connector) ([]TaskResult, error) {
		gotConn = c
		return []TaskResult{{Source: SourceGrafana, Type: ResultTypeText, Text: &TextResult{Output: "done"}}}, nil
	}}
	runner := NewRunner(lookup, nil)

	task := Task{Source: SourceGrafana, TaskType: testTaskType, ConnectorName: "g1",
		Params: map[string]any{"widget": "dashboard $env"}}
	globals := map[string]any{"env": "prod"}

	results, err := runner.ExecuteTask(context.Background(), mgr, TimeRange{GEQ: 0, LT: 3600}, globals, task)
	if err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}
	if gotConn != conn {
		t.Error("executor did not receive the looked-up connector")
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Status != StatusFinished {
		t.Errorf("status = %s, want finished", results[0].Status)
	}
	if results[0].TaskLocalVariables["$env"] != "prod" {
		t.Errorf("task local variables = %v", results[0].TaskLocalVariables)
	}
}

func TestRunnerExecuteTaskUnknownConnector(t *testing.T) {
	mgr := &fakeManager{src: SourceGrafana, executor: textExecutor("ok")}
	runner := NewRunner(&fakeLookup{conns: map[string]*Connector{}}, nil)

	task := Task{Source: SourceGrafana, TaskType: testTaskType, ConnectorName: "missing",
		Params: map[string]any{"widget": "w"}}
	_, err := runner.ExecuteTask(context.Background(), mgr, TimeRange{}, nil, task)
	if err == nil || !strings.Contains(err.Error(), "no loaded connections found") {
		t.Fatalf("ExecuteTask() error = %v, want connector lookup failure", err)
	}
}

type mapEngine struct{ out any }

func (e *mapEngine) Execute(ctx context.Context, fn transform.Function, result map[string]any) (any, error) {
	return e.out, nil
}

func TestRunnerAppliesTransformer(t *testing.T) {
	mgr := &fakeManager{src: SourceGrafana, executor: textExecutor("42")}
	runner := NewRunner(&fakeLookup{}, &mapEngine{out: map[string]any{"answer": 42}})

	task := Task{Source: SourceGrafana, TaskType: testTaskType,
		Params: map[string]any{"widget": "w"},
		ExecutionConfiguration: ExecutionConfiguration{
			TransformerFn: &transform.Function{Definition: "def transform(r): ..."},
		}}
	results, err := runner.ExecuteTask(context.Background(), mgr, TimeRange{}, nil, task)
	if err != nil {
		t.Fatalf("ExecuteTask() error = %v", err)
	}
	if results[0].TransformerOutput["$answer"] != 42 {
		t.Errorf("transformer output = %v", results[0].TransformerOutput)
	}
}

func TestRunnerTransformerContractViolation(t *testing.T) {
	mgr := &fakeManager{src: SourceGrafana, executor: textExecutor("42")}
	runner := NewRunner(&fakeLookup{}, &mapEngine{out: "not a map"})

	task := Task{Source: SourceGrafana, TaskType: testTaskType,
		Params: map[string]any{"widget": "w"},
		ExecutionConfiguration: ExecutionConfiguration{
			TransformerFn: &transform.Function{Definition: "def transform(r): ..."},
		}}
	_, err := runner.ExecuteTask(context.Background(), mgr, TimeRange{}, nil, task)
	if err == nil || !strings.Contains(err.Error(), "expected a map") {
		t.Fatalf("ExecuteTask() error = %v, want transformer contract violation", err)
	}
}

func TestFacadeExecuteTaskFailSoft(t *testing.T) {
	failing := &fakeManager{src: SourceGrafana, executor: func(ctx context.Context, tr TimeRange, params map[string]any, c *Connector) ([]TaskResult, error) {
		return nil, errors.New("vendor exploded")
	}}
	facade := NewFacade(NewRunner(&fakeLookup{}, nil), failing)

	tests := []struct {
		name string
		task Task
		want string
	}{
		{
			name: "unknown source",
			task: Task{Source: SourceDatadog, TaskType: testTaskType, Params: map[string]any{}},
			want: "no manager registered",
		},
		{
			name: "executor failure",
			task: Task{Source: SourceGrafana, TaskType: testTaskType, Params: map[string]any{"widget": "w"}},
			want: "vendor exploded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := facade.ExecuteTask(context.Background(), TimeRange{}, nil, tt.task)
			if len(results) != 1 {
				t.Fatalf("results = %d, want 1", len(results))
			}
			if results[0].Type != ResultTypeError || results[0].Status != StatusFailed {
				t.Errorf("result = %+v, want failed error result", results[0])
			}
			if !strings.Contains(results[0].Error, tt.want) {
				t.Errorf("error = %q, want containing %q", results[0].Error, tt.want)
			}
		})
	}
}

func TestFacadeTestConnection(t *testing.T) {
	healthy := &fakeManager{src: SourceGrafana}
	broken := &fakeManager{src: SourceDatadog, testErr: errors.New("bad credentials")}
	facade := NewFacade(NewRunner(&fakeLookup{}, nil), healthy, broken)

	ok, msg := facade.TestConnection(context.Background(), &Connector{Name: "g", Type: SourceGrafana})
	if !ok || msg != "" {
		t.Errorf("TestConnection(healthy) = %v, %q", ok, msg)
	}

	ok, msg = facade.TestConnection(context.Background(), &Connector{Name: "d", Type: SourceDatadog})
	if ok || !strings.Contains(msg, "bad credentials") {
		t.Errorf("TestConnection(broken) = %v, %q", ok, msg)
	}

	ok, msg = facade.TestConnection(context.Background(), &Connector{Name: "x", Type: SourceSentry})
	if ok || msg == "" {
		t.Errorf("TestConnection(unregistered) = %v, %q", ok, msg)
	}
}

func TestFacadeManagersOrdered(t *testing.T) {
	facade := NewFacade(NewRunner(&fakeLookup{}, nil),
		&fakeManager{src: SourceSentry},
		&fakeManager{src: SourceDatadog},
		&fakeManager{src: SourceGrafana},
	)
	managers := facade.Managers()
	for i := 1; i < len(managers); i++ {
		if managers[i-1].Source() >= managers[i].Source() {
			t.Fatalf("Managers() not sorted: %s before %s", managers[i-1].Source(), managers[i].Source())
		}
	}
}
