package cli

import (
	"fmt"
	"io"
	"math"

	"github.com/spf13/cobra"

	"github.com/roach88/projtrack/internal/project"
	"github.com/roach88/projtrack/internal/tracker"
)

// NewProjectsCommand creates the projects command group.
func NewProjectsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List, sync and move projects",
	}

	cmd.AddCommand(newProjectsListCommand(rootOpts))
	cmd.AddCommand(newProjectsSyncCommand(rootOpts))
	cmd.AddCommand(newProjectsMoveCommand(rootOpts))
	cmd.AddCommand(newProjectsHistoryCommand(rootOpts))
	cmd.AddCommand(newProjectsValidateCommand(rootOpts))

	return cmd
}

func newProjectsListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List stored projects grouped by status",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			a, err := openApp(commandContext(cmd), opts, cmd, formatter, storeRecover)
			if err != nil {
				return err
			}
			defer a.close()

			grouped, err := a.svc.GetProjects(commandContext(cmd))
			if err != nil {
				return formatter.Fail(err, nil)
			}
			if formatter.Format == "json" {
				return formatter.Success(grouped)
			}
			renderProjects(formatter.Writer, grouped)
			return nil
		},
	}
}

// renderProjects writes one block per status in display order.
func renderProjects(w io.Writer, grouped map[project.Status][]project.Project) {
	for _, st := range project.Statuses() {
		projects := grouped[st]
		fmt.Fprintf(w, "%s (%d)\n", st, len(projects))
		for _, p := range projects {
			fmt.Fprintf(w, "  %s  %s  %d/%d tasks (%d%%)", p.Filename, p.Title,
				p.CompletedTasks, p.TotalTasks, int(math.Round(p.CompletionPercentage)))
			if p.NeedsImprovement {
				fmt.Fprint(w, "  [needs improvement]")
			}
			fmt.Fprintln(w)
			if p.WaitingInput != "" {
				fmt.Fprintf(w, "    waiting on: %s\n", p.WaitingInput)
			}
		}
	}
}

func newProjectsSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Index the project directories into the store",
		Long: `Scan every status directory under the projects root, save each
project and remove stored projects whose file is gone.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			a, err := openApp(commandContext(cmd), opts, cmd, formatter, storeRecover)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.svc.SyncProjects(commandContext(cmd))
			if err != nil {
				return formatter.Fail(err, res)
			}
			if formatter.Format == "json" {
				return formatter.Success(res)
			}
			fmt.Fprintf(formatter.Writer, "Synced %d project(s), removed %d\n", res.Saved, res.Removed)
			for _, name := range res.Failed {
				fmt.Fprintf(formatter.Writer, "  failed: %s\n", name)
			}
			if len(res.Failed) > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d project(s) failed to sync", len(res.Failed)))
			}
			return nil
		},
	}
}

func newProjectsMoveCommand(opts *RootOptions) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "move <filename> <status>",
		Short: "Move a project to another status",
		Long: `Move a project file into the directory for the given status
(active, waiting, someday or archive) and record the change in its history.

Example:
  projtrack projects move Kitchen.txt waiting --input "Quote from contractor"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			status, err := project.ParseStatus(args[1])
			if err != nil {
				return formatter.Fail(err, nil)
			}

			a, err := openApp(commandContext(cmd), opts, cmd, formatter, storeRecover)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.svc.UpdateProjectStatus(commandContext(cmd), tracker.UpdateStatusRequest{
				Filename:     args[0],
				NewStatus:    status,
				WaitingInput: input,
			})
			if err != nil {
				return formatter.Fail(err, nil)
			}
			if formatter.Format == "json" {
				return formatter.Success(p)
			}
			fmt.Fprintf(formatter.Writer, "Moved %s to %s\n", p.Filename, p.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", `text for the "Waiting on Inputs" section`)

	return cmd
}

func newProjectsHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "history <filename>",
		Short:         "Show the status changes of a project",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			a, err := openApp(commandContext(cmd), opts, cmd, formatter, storeRecover)
			if err != nil {
				return err
			}
			defer a.close()

			history, err := a.svc.ProjectHistory(commandContext(cmd), args[0])
			if err != nil {
				return formatter.Fail(err, nil)
			}
			if formatter.Format == "json" {
				return formatter.Success(history)
			}
			if len(history) == 0 {
				fmt.Fprintf(formatter.Writer, "No history for %s\n", args[0])
				return nil
			}
			for _, h := range history {
				fmt.Fprintf(formatter.Writer, "%s  %s -> %s  tasks %d/%d -> %d/%d\n",
					h.Timestamp, h.PreviousStatus, h.NewStatus,
					h.PreviousCompleted, h.PreviousTasks, h.NewCompleted, h.NewTasks)
			}
			return nil
		},
	}
}

func newProjectsValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <filename>",
		Short: "Check the structure of a project file",
		Long: `Check that a project file has a title, an End State section and a
Tasks section with at least one checkbox task.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(opts, cmd)
			a, err := openApp(commandContext(cmd), opts, cmd, formatter, storeNone)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.svc.ValidateProject(commandContext(cmd), args[0])
			if err != nil {
				return formatter.Fail(err, nil)
			}
			return outputValidation(formatter, p)
		},
	}
}

// projectValidation is the JSON payload of projects validate.
type projectValidation struct {
	Filename         string         `json:"filename"`
	Status           project.Status `json:"status"`
	IsWellFormulated bool           `json:"isWellFormulated"`
	Issues           []string       `json:"issues"`
}

func outputValidation(formatter *OutputFormatter, p project.Project) error {
	result := projectValidation{
		Filename:         p.Filename,
		Status:           p.Status,
		IsWellFormulated: p.IsWellFormulated,
		Issues:           p.Issues,
	}

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else if p.IsWellFormulated {
		fmt.Fprintf(formatter.Writer, "✓ %s is well formulated\n", p.Filename)
	} else {
		fmt.Fprintf(formatter.Writer, "✗ %s needs improvement\n", p.Filename)
		for _, issue := range p.Issues {
			fmt.Fprintf(formatter.Writer, "  - %s\n", issue)
		}
	}

	if !p.IsWellFormulated {
		// Structure problems = exit code 1 (validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %d issue(s)", p.Filename, len(p.Issues)))
	}
	return nil
}
