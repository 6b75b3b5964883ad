package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "查看尚未恢复的task切换",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupSwitch,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshots := CurrentSession.engine.History()
		out := cmd.OutOrStdout()
		if len(snapshots) == 0 {
			fmt.Fprintln(out, "no pending task switch")
			return nil
		}

		// newest first, the order poptask restores them
		tw := newTable(out, "Depth", "Switch", "Task", "Address", "Saved SP", "Saved FP", "Saved PC")
		for i := len(snapshots) - 1; i >= 0; i-- {
			ss := snapshots[i]
			fmt.Fprintf(tw, "%d\t#%d\t%s\t%#x\t%#x\t%#x\t%#x\n", i+1, ss.ID, ss.Task, ss.TaskAddr, ss.SP, ss.FP, ss.PC)
		}
		return tw.Flush()
	},
}

func init() {
	debugRootCmd.AddCommand(historyCmd)
}
