package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"sourcebridge.dev/internal/source"
)

// defaultLookback is the trailing window applied when a call omits
// time_geq/time_lt.
const defaultLookback = 4 * time.Hour

// maxToolNameLen keeps synthesized names within client limits.
const maxToolNameLen = 60

// registerTools synthesizes one tool per task type of every source that has
// at least one configured connector. Schemas come straight from the task
// descriptors' form fields.
func (s *Server) registerTools() {
	for _, mgr := range s.facade.Managers() {
		connectors := s.store.BySource(mgr.Source())
		if len(connectors) == 0 {
			continue
		}
		connectorNames := make([]string, 0, len(connectors))
		for _, conn := range connectors {
			connectorNames = append(connectorNames, conn.Name)
		}

		taskTypes := mgr.TaskTypes()
		names := make([]string, 0, len(taskTypes))
		for name := range taskTypes {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, taskType := range names {
			descriptor := taskTypes[taskType]
			s.registerTaskTool(mgr.Source(), taskType, descriptor, connectorNames)
		}
	}
}

func (s *Server) registerTaskTool(src source.Source, taskType string, descriptor source.TaskTypeDescriptor, connectorNames []string) {
	properties := map[string]interface{}{}
	required := []string{}

	for _, field := range descriptor.FormFields {
		properties[field.KeyName] = fieldSchema(field)
		if !field.Optional {
			required = append(required, field.KeyName)
		}
	}

	if len(connectorNames) > 1 {
		properties["connector_name"] = map[string]interface{}{
			"type":        "string",
			"description": "Connector to run against",
			"enum":        connectorNames,
			"default":     connectorNames[0],
		}
	}
	properties["time_geq"] = map[string]interface{}{
		"type":        "integer",
		"description": "Window start in epoch seconds. Defaults to 4 hours ago.",
	}
	properties["time_lt"] = map[string]interface{}{
		"type":        "integer",
		"description": "Window end in epoch seconds. Defaults to now.",
	}

	description := descriptor.DisplayName
	if description == "" {
		description = fmt.Sprintf("Run %s against %s", taskType, src)
	}

	tool := mcp.Tool{
		Name:        toolName(src, taskType),
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		params := make(map[string]any, len(args))
		for key, value := range args {
			switch key {
			case "connector_name", "time_geq", "time_lt":
			default:
				params[key] = value
			}
		}

		connectorName := connectorNames[0]
		if name, ok := args["connector_name"].(string); ok && name != "" {
			connectorName = name
		}

		now := time.Now().Unix()
		tr := source.TimeRange{GEQ: now - int64(defaultLookback.Seconds()), LT: now}
		if v, ok := epochArg(args["time_geq"]); ok {
			tr.GEQ = v
		}
		if v, ok := epochArg(args["time_lt"]); ok {
			tr.LT = v
		}

		task := source.Task{
			Source:        src,
			TaskType:      taskType,
			ConnectorName: connectorName,
			Params:        params,
		}
		results := s.facade.ExecuteTask(ctx, tr, nil, task)

		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to serialize results: %v", err)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}

	s.mcpServer.AddTool(tool, handler)
}

// fieldSchema maps one form field to its JSON schema fragment.
func fieldSchema(field source.FormField) map[string]interface{} {
	prop := map[string]interface{}{}

	switch {
	case len(field.Composite) > 0:
		subProps := map[string]interface{}{}
		subRequired := []string{}
		for _, sub := range field.Composite {
			subProps[sub.KeyName] = fieldSchema(sub)
			if !sub.Optional {
				subRequired = append(subRequired, sub.KeyName)
			}
		}
		prop["type"] = "array"
		prop["items"] = map[string]interface{}{
			"type":       "object",
			"properties": subProps,
			"required":   subRequired,
		}
	case field.DataType == source.DataTypeLong:
		prop["type"] = "integer"
	case field.DataType == source.DataTypeDouble:
		prop["type"] = "number"
	case field.DataType == source.DataTypeBoolean:
		prop["type"] = "boolean"
	case field.DataType == source.DataTypeStringArray:
		prop["type"] = "array"
		prop["items"] = map[string]interface{}{"type": "string"}
	case field.DataType == source.DataTypeStringMap:
		prop["type"] = "object"
		prop["additionalProperties"] = map[string]interface{}{"type": "string"}
	default:
		prop["type"] = "string"
	}

	description := field.Description
	if description == "" {
		description = field.DisplayName
	}
	if description != "" {
		prop["description"] = description
	}
	if len(field.ValidValues) > 0 {
		prop["enum"] = field.ValidValues
	}
	if field.Default != nil {
		prop["default"] = field.Default
	}
	return prop
}

// epochArg reads an epoch-seconds argument that may arrive as a JSON number
// or a numeric string.
func epochArg(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// toolName builds "{source}_{tasktype}", dropping redundant task-type
// prefixes and keeping the result within client name limits.
func toolName(src source.Source, taskType string) string {
	taskType = strings.TrimPrefix(taskType, "task_type_")
	taskType = strings.TrimPrefix(taskType, "task_")
	return truncateName(fmt.Sprintf("%s_%s", src, taskType))
}

func truncateName(name string) string {
	if len(name) <= maxToolNameLen {
		return name
	}
	return name[:maxToolNameLen]
}
