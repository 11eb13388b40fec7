package commands

import (
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	outcomesMarkReported bool
	outcomesJSON         bool
)

// NewOutcomesCmd creates the outcomes command
func NewOutcomesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "List task outcomes not yet delivered to a reporter",
		Long: `List the durable task outcomes that no reporter has consumed yet,
oldest first. With --mark-reported each listed outcome is flagged as
delivered, exactly like one reporter poll.

Examples:
  taskpilot outcomes
  taskpilot outcomes --json
  taskpilot outcomes --mark-reported`,
		RunE: runOutcomes,
	}

	cmd.Flags().BoolVar(&outcomesMarkReported, "mark-reported", false, "Flag the listed outcomes as delivered")
	cmd.Flags().BoolVar(&outcomesJSON, "json", false, "Print outcomes as JSON")

	return cmd
}

func runOutcomes(cmd *cobra.Command, args []string) error {
	ctx, deps, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	outcomes, err := deps.Stores.Outcomes.ListUnreported(ctx)
	if err != nil {
		return err
	}

	if outcomesJSON {
		if err := printJSON(cmd.OutOrStdout(), outcomes); err != nil {
			return err
		}
	} else if len(outcomes) == 0 {
		cmd.Println("No unreported outcomes.")
	} else {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = w.Write([]byte("TASK ID\tBACKEND\tOK\tCOST\tCOMPLETED\tDESCRIPTION\n"))
		for _, o := range outcomes {
			ok := "yes"
			if !o.Success {
				ok = "no"
			}
			_, _ = w.Write([]byte(
				o.TaskID + "\t" +
					o.Backend + "\t" +
					ok + "\t" +
					formatCost(o.CostUSD) + "\t" +
					o.CompletedAt.Local().Format(time.DateTime) + "\t" +
					truncate(o.Description, 48) + "\n"))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if !outcomesMarkReported {
		return nil
	}

	for _, o := range outcomes {
		if err := deps.Stores.Outcomes.MarkReported(ctx, o.TaskID); err != nil {
			return err
		}
	}
	cmd.Printf("Marked %d outcome(s) reported.\n", len(outcomes))
	return nil
}
