package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sourcebridge.dev/internal/config"
	"sourcebridge.dev/internal/source"
)

// taskFile is the JSON shape accepted by the run command: a task plus an
// optional explicit window and globals.
type taskFile struct {
	TimeRange         *source.TimeRange `json:"time_range,omitempty"`
	GlobalVariableSet map[string]any    `json:"global_variable_set,omitempty"`
	Task              source.Task       `json:"task"`
}

// newRunCmd executes a single task described by a JSON file and prints the
// results to stdout.
func newRunCmd(settings config.Settings) *cobra.Command {
	var lookbackMinutes int

	cmd := &cobra.Command{
		Use:   "run <task-file.json>",
		Short: "Execute one task from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read task file: %w", err)
			}
			var file taskFile
			if err := json.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("failed to parse task file: %w", err)
			}
			if file.Task.Source == source.SourceUnknown {
				return fmt.Errorf("task file must set task.source")
			}

			store, err := loadStore()
			if err != nil {
				return err
			}
			facade := buildFacade(store, settings)

			tr := source.TimeRange{}
			if file.TimeRange != nil {
				tr = *file.TimeRange
			} else {
				now := time.Now().Unix()
				tr = source.TimeRange{GEQ: now - int64(lookbackMinutes)*60, LT: now}
			}

			results := facade.ExecuteTask(cmd.Context(), tr, file.GlobalVariableSet, file.Task)
			out, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().IntVar(&lookbackMinutes, "lookback", 240, "Trailing window in minutes when the file has no time_range")
	return cmd
}
