package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var processorsCmd = &cobra.Command{
	Use:   "processors <cluster>",
	Short: "列出cluster上的processor",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return usageError(cmd)
		}
		dir := CurrentSession.dir

		cluster, err := lookupCluster(dir, args[0])
		if err != nil {
			return err
		}
		procs, err := dir.Processors(cluster)
		if err != nil {
			return err
		}
		if len(procs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "There is no processor for cluster %s at address: %#x\n", cluster.Name, cluster.Addr)
			return nil
		}

		tw := newTable(cmd.OutOrStdout(), "Address", "PID", "Preemption", "Spin")
		for _, p := range procs {
			fmt.Fprintf(tw, "%#x\t%d\t%d\t%d\n", p.Addr, p.PID, p.Preemption, p.Spin)
		}
		return tw.Flush()
	},
}

func init() {
	debugRootCmd.AddCommand(processorsCmd)
}
