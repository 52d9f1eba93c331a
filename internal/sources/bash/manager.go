package bash

import (
	"context"
	"strings"

	"sourcebridge.dev/internal/source"
)

// TaskExecuteCommand runs one or more shell commands on the connector's
// target host.
const TaskExecuteCommand = "execute_command"

// Manager is the command source manager.
type Manager struct {
	taskTypes map[string]source.TaskTypeDescriptor

	newProcessor func(conn *source.Connector) (*Processor, error)
}

// NewManager builds the command manager and its task-type table.
func NewManager() *Manager {
	m := &Manager{newProcessor: NewProcessor}
	m.taskTypes = map[string]source.TaskTypeDescriptor{
		TaskExecuteCommand: {
			Executor:    m.executeCommand,
			ResultType:  source.ResultTypeBashOutput,
			DisplayName: "Execute a command",
			Category:    "Actions",
			FormFields: []source.FormField{
				{KeyName: "command", DisplayName: "Command", Description: "Multiple commands separated by newlines run in order", DataType: source.DataTypeString},
			},
		},
	}
	return m
}

func (m *Manager) Source() source.Source { return source.SourceBash }

func (m *Manager) TaskTypes() map[string]source.TaskTypeDescriptor { return m.taskTypes }

func (m *Manager) TestConnection(ctx context.Context, conn *source.Connector) error {
	processor, err := m.newProcessor(conn)
	if err != nil {
		return err
	}
	return processor.TestConnection(ctx)
}

func (m *Manager) executeCommand(ctx context.Context, tr source.TimeRange, params map[string]any, conn *source.Connector) ([]source.TaskResult, error) {
	if err := source.RequireConnector(conn, source.SourceBash); err != nil {
		return nil, err
	}
	command := source.StringParam(params, "command")
	if strings.TrimSpace(command) == "" {
		return nil, source.NewConfigurationError("execute_command requires a command")
	}

	processor, err := m.newProcessor(conn)
	if err != nil {
		return nil, err
	}

	var outputs []source.CommandOutput
	for _, c := range strings.Split(command, "\n") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		out, err := processor.Run(ctx, c)
		if err != nil {
			// Failed commands report the error inline; later commands
			// still run.
			out = strings.TrimSpace(out + "\n" + err.Error())
		}
		outputs = append(outputs, source.CommandOutput{
			Server: processor.Target(),
			Output: out,
		})
	}

	return []source.TaskResult{{
		Source:     source.SourceBash,
		Type:       source.ResultTypeBashOutput,
		BashOutput: &source.BashOutputResult{CommandOutputs: outputs},
	}}, nil
}
