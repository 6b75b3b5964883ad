package debug

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/ucdbg/pkg/host"
	"github.com/hitzhangjie/ucdbg/pkg/symbol"
)

// disassembler is implemented by hosts able to show the instruction at pc
type disassembler interface {
	Instruction(addr uint64, syntax string) (string, error)
}

// asmSyntax syntax of the instruction shown with a frame
var asmSyntax string

var frameCmd = &cobra.Command{
	Use:   "frame [n]",
	Short: "查看或选择栈帧",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInspect,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s := CurrentSession
		switch len(args) {
		case 0:
		case 1:
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return &symbol.MalformedInputError{Input: args[0], Want: "frame number"}
			}
			if err := s.host.SelectFrame(n); err != nil {
				return err
			}
		default:
			return usageError(cmd)
		}
		return printFrame(cmd.OutOrStdout(), s)
	},
}

func init() {
	debugRootCmd.AddCommand(frameCmd)

	frameCmd.Flags().StringVarP(&asmSyntax, "syntax", "s", "gnu", "反汇编指令语法，支持：go, gnu, intel")
}

// printFrame prints the registers of the selected frame
func printFrame(out io.Writer, s *DebugSession) error {
	var regs [3]uint64
	for i, reg := range []host.Reg{host.SP, host.FP, host.PC} {
		v, err := s.host.Register(reg)
		if err != nil {
			return err
		}
		regs[i] = v
	}
	fmt.Fprintf(out, "#%d\tsp %#x\tfp %#x\tpc %#x\n", s.host.Frame(), regs[0], regs[1], regs[2])

	dis, ok := s.host.(disassembler)
	if !ok {
		return nil
	}
	inst, err := dis.Instruction(regs[2], asmSyntax)
	if err != nil {
		// pc may point anywhere after a manual switch
		fmt.Fprintf(out, "\t%v\n", err)
		return nil
	}
	fmt.Fprintf(out, "\t%s\n", inst)
	return nil
}
