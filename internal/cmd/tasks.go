package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roundtable/internal/orchestrator"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage the task list of an iteration",
}

var tasksImportCmd = &cobra.Command{
	Use:   "import <iteration> <file|->",
	Short: "Replace the task list from a YAML or JSON file",
	Long: `Import replaces the tasks of an iteration that has not left planning.
The file holds a list of tasks, or a mapping with a tasks key:

  tasks:
    - id: api
      description: HTTP handlers
      assignee: alice
    - id: docs
      assignee: bob
      depends_on: [api]

Use - to read from standard input.`,
	Args: cobra.ExactArgs(2),
	RunE: runTasksImport,
}

var tasksLayersCmd = &cobra.Command{
	Use:   "layers <iteration>",
	Short: "Show the layer each task would run in",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksLayers,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksImportCmd)
	tasksCmd.AddCommand(tasksLayersCmd)
}

func runTasksImport(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if args[1] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[1])
	}
	if err != nil {
		return fmt.Errorf("failed to read tasks: %w", err)
	}
	tasks, err := orchestrator.ParseTasks(data)
	if err != nil {
		return err
	}

	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()
	return a.orch.ImportTasks(cmd.Context(), args[0], tasks)
}

func runTasksLayers(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.orch.Layers(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if res.Depth() == 0 {
		fmt.Fprintln(out, "No tasks recorded.")
		return nil
	}
	for i, ids := range res.Order {
		fmt.Fprintf(out, "layer %d: %s\n", i, strings.Join(ids, ", "))
	}
	return nil
}
