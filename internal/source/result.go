package source

// ResultType tags the populated variant of a TaskResult.
type ResultType string

const (
	ResultTypeUnknown     ResultType = ""
	ResultTypeTimeseries  ResultType = "timeseries"
	ResultTypeTable       ResultType = "table"
	ResultTypeLogs        ResultType = "logs"
	ResultTypeText        ResultType = "text"
	ResultTypeAPIResponse ResultType = "api_response"
	ResultTypeBashOutput  ResultType = "bash_command_output"
	ResultTypeError       ResultType = "error"
)

// ExecutionStatus is the terminal status attached to a result.
type ExecutionStatus string

const (
	StatusUnknown  ExecutionStatus = ""
	StatusFinished ExecutionStatus = "finished"
	StatusFailed   ExecutionStatus = "failed"
)

// Label is one name/value pair identifying a series.
type Label struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Datapoint is one timestamped sample. Timestamps are epoch milliseconds.
type Datapoint struct {
	TimestampMS int64   `json:"timestamp"`
	Value       float64 `json:"value"`
}

// LabeledSeries is one labeled sequence of datapoints within a timeseries
// result. Consumers key off the labels, not the position.
type LabeledSeries struct {
	Labels     []Label     `json:"metric_label_values,omitempty"`
	Unit       string      `json:"unit,omitempty"`
	Datapoints []Datapoint `json:"datapoints"`
}

// OffsetLabel returns the offset_seconds label value, or "" if unset.
func (s LabeledSeries) OffsetLabel() string {
	for _, l := range s.Labels {
		if l.Name == "offset_seconds" {
			return l.Value
		}
	}
	return ""
}

// TimeseriesResult is a named collection of labeled series.
type TimeseriesResult struct {
	MetricName       string          `json:"metric_name,omitempty"`
	MetricExpression string          `json:"metric_expression,omitempty"`
	Series           []LabeledSeries `json:"labeled_metric_timeseries"`
}

// TableColumn is one named cell of a table row.
type TableColumn struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TableRow is one ordered row of named columns.
type TableRow struct {
	Columns []TableColumn `json:"columns"`
}

// TableResult is an ordered collection of rows; also used for log output.
type TableResult struct {
	RawQuery   string     `json:"raw_query,omitempty"`
	Rows       []TableRow `json:"rows"`
	TotalCount uint64     `json:"total_count"`
}

// TextResult is a plain text payload.
type TextResult struct {
	Output string `json:"output"`
}

// APIResponseResult carries a raw vendor API payload.
type APIResponseResult struct {
	RequestMethod string         `json:"request_method,omitempty"`
	RequestURL    string         `json:"request_url,omitempty"`
	StatusCode    int            `json:"response_status,omitempty"`
	Body          map[string]any `json:"response_body,omitempty"`
}

// CommandOutput is the output of one command on one server.
type CommandOutput struct {
	Server string `json:"server,omitempty"`
	Output string `json:"output"`
}

// BashOutputResult carries the outputs of executed shell commands.
type BashOutputResult struct {
	CommandOutputs []CommandOutput `json:"command_outputs"`
}

// TaskResult is the tagged-union output of a task execution. Exactly one
// payload variant matching Type is populated. Results are created fresh per
// execution and only enriched with cross-cutting metadata (local variables,
// transformer output, status) before being returned.
type TaskResult struct {
	Source Source          `json:"source,omitempty"`
	Type   ResultType      `json:"type"`
	Status ExecutionStatus `json:"status,omitempty"`

	Timeseries  *TimeseriesResult  `json:"timeseries,omitempty"`
	Table       *TableResult       `json:"table,omitempty"`
	Logs        *TableResult       `json:"logs,omitempty"`
	Text        *TextResult        `json:"text,omitempty"`
	APIResponse *APIResponseResult `json:"api_response,omitempty"`
	BashOutput  *BashOutputResult  `json:"bash_command_output,omitempty"`
	Error       string             `json:"error,omitempty"`

	TaskLocalVariables map[string]any `json:"task_local_variable_set,omitempty"`
	TransformerOutput  map[string]any `json:"result_transformer_variable_set,omitempty"`
}

// ErrorResult builds a result carrying only an error string.
func ErrorResult(s Source, msg string) TaskResult {
	return TaskResult{Source: s, Type: ResultTypeError, Status: StatusFailed, Error: msg}
}
