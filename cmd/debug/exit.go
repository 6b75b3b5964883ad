package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var exitCmd = &cobra.Command{
	Use:     "exit",
	Short:   "恢复原始上下文并结束调试会话",
	Aliases: []string{"quit", "q"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupOthers,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s := CurrentSession
		// the tracee must not resume on a task's registers
		if s.engine.Depth() != 0 {
			if _, err := s.engine.Reset(); err != nil {
				return fmt.Errorf("cannot restore the origin context, use poptask or reset before exit: %w", err)
			}
		}
		s.Stop()
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(exitCmd)
}
