package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "恢复到进程停止时的原始上下文",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupSwitch,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s := CurrentSession
		if _, err := s.engine.Reset(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Reset to the origin context")
		return printFrame(out, s)
	},
}

func init() {
	debugRootCmd.AddCommand(resetCmd)
}
