package debug

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/ucdbg/pkg/symbol"
	"github.com/hitzhangjie/ucdbg/pkg/ucpp"
)

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "列出所有cluster",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return usageError(cmd)
		}
		clusters, err := CurrentSession.dir.Clusters()
		if err != nil {
			return err
		}

		tw := newTable(cmd.OutOrStdout(), "Name", "Address")
		for _, c := range clusters {
			fmt.Fprintf(tw, "%s\t%#x\n", c.Name, c.Addr)
		}
		return tw.Flush()
	},
}

func init() {
	debugRootCmd.AddCommand(clustersCmd)
}

// lookupCluster finds a cluster by name, or reads it at a 0x address
func lookupCluster(dir *ucpp.Directory, arg string) (*ucpp.Cluster, error) {
	if strings.HasPrefix(arg, "0x") {
		addr, err := symbol.ParseAddress(arg)
		if err != nil {
			return nil, err
		}
		return dir.ClusterAt(addr)
	}
	return dir.FindClusterByName(arg)
}
