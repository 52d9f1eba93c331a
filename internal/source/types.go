// Package source holds the dispatch core: the Source and result types, the
// SourceManager contract, the variable resolver, and the Facade that routes
// task execution to the right manager.
package source

import (
	"context"

	"sourcebridge.dev/internal/transform"
)

// Source identifies one third-party integration.
type Source string

const (
	SourceUnknown    Source = ""
	SourceCloudwatch Source = "cloudwatch"
	SourceGrafana    Source = "grafana"
	SourceDatadog    Source = "datadog"
	SourceNewRelic   Source = "new_relic"
	SourceSentry     Source = "sentry"
	SourceGithub     Source = "github"
	SourceAPI        Source = "api"
	SourceBash       Source = "bash"
)

// KeyType identifies one credential field within a connector.
type KeyType string

const (
	KeyAWSAccessKey      KeyType = "aws_access_key"
	KeyAWSSecretKey      KeyType = "aws_secret_key"
	KeyAWSRegion         KeyType = "aws_region"
	KeyAWSAssumedRoleARN KeyType = "aws_assumed_role_arn"

	KeyGrafanaHost   KeyType = "grafana_host"
	KeyGrafanaAPIKey KeyType = "grafana_api_key"
	KeySSLVerify     KeyType = "ssl_verify"

	KeyDatadogAPIKey    KeyType = "datadog_api_key"
	KeyDatadogAppKey    KeyType = "datadog_app_key"
	KeyDatadogAPIDomain KeyType = "datadog_api_domain"

	KeyNewRelicAPIKey    KeyType = "newrelic_api_key"
	KeyNewRelicAppID     KeyType = "newrelic_app_id"
	KeyNewRelicAPIDomain KeyType = "newrelic_api_domain"

	KeySentryAPIKey  KeyType = "sentry_api_key"
	KeySentryOrgSlug KeyType = "sentry_org_slug"

	KeyGithubToken KeyType = "github_token"
	KeyGithubOrg   KeyType = "github_org"

	KeyRemoteServerHost     KeyType = "remote_server_host"
	KeyRemoteServerUser     KeyType = "remote_server_user"
	KeyRemoteServerPassword KeyType = "remote_server_password"
	KeyRemoteServerPEM      KeyType = "remote_server_pem"
)

// ConnectorKey is one credential field of a connector.
type ConnectorKey struct {
	Type  KeyType `json:"key_type"`
	Value string  `json:"value"`
}

// Connector is a named, typed credential bundle bound to one Source.
// Connectors are read-only values; nothing in the core mutates one after
// construction.
type Connector struct {
	Name string         `json:"name"`
	Type Source         `json:"type"`
	Keys []ConnectorKey `json:"keys"`
}

// KeyValue returns the value for the given key type, or "" if absent.
func (c *Connector) KeyValue(kt KeyType) string {
	for _, k := range c.Keys {
		if k.Type == kt {
			return k.Value
		}
	}
	return ""
}

// KeyTypes returns the set of key types present on the connector.
func (c *Connector) KeyTypes() []KeyType {
	kts := make([]KeyType, 0, len(c.Keys))
	for _, k := range c.Keys {
		kts = append(kts, k.Type)
	}
	return kts
}

// ConnectorLookup resolves connector names to loaded connectors.
type ConnectorLookup interface {
	Connector(name string) (*Connector, error)
	BySource(s Source) []*Connector
}

// TimeRange is a half-open [GEQ, LT) window in epoch seconds.
type TimeRange struct {
	GEQ int64 `json:"time_geq"`
	LT  int64 `json:"time_lt"`
}

// DurationSeconds returns LT-GEQ.
func (tr TimeRange) DurationSeconds() int64 { return tr.LT - tr.GEQ }

// Shift returns the range moved back in time by offset seconds.
func (tr TimeRange) Shift(offsetSeconds int64) TimeRange {
	return TimeRange{GEQ: tr.GEQ - offsetSeconds, LT: tr.LT - offsetSeconds}
}

// ExecutionConfiguration carries per-task execution options.
type ExecutionConfiguration struct {
	TimeseriesOffsets []int64             `json:"timeseries_offsets,omitempty"`
	TransformerFn     *transform.Function `json:"result_transformer,omitempty"`
}

// Task is a declarative unit of work against one source. Tasks are
// immutable inputs; variable resolution operates on a working copy.
type Task struct {
	Source                 Source                 `json:"source"`
	TaskType               string                 `json:"task_type"`
	Description            string                 `json:"description,omitempty"`
	ConnectorName          string                 `json:"connector_name,omitempty"`
	Params                 map[string]any         `json:"params"`
	ExecutionConfiguration ExecutionConfiguration `json:"execution_configuration,omitempty"`
}

// DataType enumerates form-field value types.
type DataType string

const (
	DataTypeString      DataType = "string"
	DataTypeLong        DataType = "long"
	DataTypeDouble      DataType = "double"
	DataTypeBoolean     DataType = "boolean"
	DataTypeStringArray DataType = "string_array"
	DataTypeStringMap   DataType = "string_map"
)

// FormField describes one task parameter for the UI and for MCP tool
// schema generation. Composite fields carry sub-fields and hold a list of
// objects as their value.
type FormField struct {
	KeyName     string      `json:"key_name"`
	DisplayName string      `json:"display_name,omitempty"`
	Description string      `json:"description,omitempty"`
	DataType    DataType    `json:"data_type,omitempty"`
	Composite   []FormField `json:"composite_fields,omitempty"`
	Optional    bool        `json:"optional,omitempty"`
	Default     any         `json:"default,omitempty"`
	ValidValues []string    `json:"valid_values,omitempty"`
}

// Executor runs one resolved task against a vendor API and shapes the
// response into task results. Fan-out task types may return more than one.
type Executor func(ctx context.Context, tr TimeRange, params map[string]any, conn *Connector) ([]TaskResult, error)

// TaskTypeDescriptor binds a task type to its executor and schema.
type TaskTypeDescriptor struct {
	Executor    Executor
	ResultType  ResultType
	DisplayName string
	Category    string
	FormFields  []FormField
}

// SourceManager is implemented once per third-party source.
type SourceManager interface {
	// Source returns the manager's source tag.
	Source() Source
	// TaskTypes returns the task-type descriptor map. The map is static;
	// callers must not mutate it.
	TaskTypes() map[string]TaskTypeDescriptor
	// TestConnection builds the vendor processor from the connector
	// credentials and verifies it can reach the vendor API.
	TestConnection(ctx context.Context, conn *Connector) error
}
