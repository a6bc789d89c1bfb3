package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunStepsCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var projectID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				ProjectID: projectID,
				Status:    status,
				Limit:     limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "PROJECT_ID", "KIND", "STATUS", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.ProjectID, r.Kind, r.Status, r.CreatedAt}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project-id", "", "Filter by project ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, BLOCKED, SUCCEEDED, FAILED, CANCELED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var kind string
	var metadata []string

	cmd := &cobra.Command{
		Use:   "start PROJECT_ID",
		Short: "Start a new run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := CreateRunRequest{Kind: kind}

			if len(metadata) > 0 {
				req.Metadata = make(map[string]any)
				for _, kv := range metadata {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid metadata format %q, expected KEY=VALUE", kv)
					}
					req.Metadata[parts[0]] = parts[1]
				}
			}

			run, err := client.CreateRun(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s", run.ID))
			out.Print(
				[]string{"ID", "PROJECT_ID", "KIND", "STATUS", "CREATED"},
				[][]string{{run.ID, run.ProjectID, run.Kind, run.Status, run.CreatedAt}},
				run,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "research", "Run kind (research, implementation)")
	cmd.Flags().StringSliceVar(&metadata, "metadata", nil, "Metadata values as KEY=VALUE (repeatable)")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "PROJECT_ID", "KIND", "STATUS", "CREATED", "UPDATED"},
				[][]string{{run.ID, run.ProjectID, run.Kind, run.Status, run.CreatedAt, run.UpdatedAt}},
				run,
			)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run canceled: %s", run.ID))
			return nil
		},
	}
}

func newRunStepsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "steps RUN_ID",
		Short: "List step records of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runSteps, err := client.ListSteps(args[0])
			if err != nil {
				return err
			}

			headers := []string{"STEP_ID", "NAME", "KIND", "STATUS", "ATTEMPT", "ERROR"}
			rows := make([][]string, len(runSteps))
			for i, s := range runSteps {
				rows[i] = []string{s.StepID, s.StepName, s.StepKind, s.Status, strconv.Itoa(s.Attempt), s.Error}
			}

			out.Print(headers, rows, runSteps)
			return nil
		},
	}
}
