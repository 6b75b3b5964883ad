package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var poptaskCmd = &cobra.Command{
	Use:   "poptask",
	Short: "切换回上一次task命令之前的上下文",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupSwitch,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s := CurrentSession
		snapshot, err := s.engine.SwitchBack()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Switched back from task %s (%#x), depth %d\n", snapshot.Task, snapshot.TaskAddr, s.engine.Depth())
		return printFrame(out, s)
	},
}

func init() {
	debugRootCmd.AddCommand(poptaskCmd)
}
