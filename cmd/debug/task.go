package debug

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/ucdbg/pkg/symbol"
	"github.com/hitzhangjie/ucdbg/pkg/ucpp"
)

var taskCmd = &cobra.Command{
	Use:   "task [<cluster> [<id>] | 0x<address> | \"<variable>\"]",
	Short: "列出task，或切换到task的上下文",
	Long: `task                     : list the tasks of every cluster
task <cluster>           : list the tasks of cluster, by name or 0x address
task <cluster> <id>      : switch to the task with the id in cluster
task 0x<address>         : switch to the task at address
task "<variable>"        : switch to the task the pointer variable points to,
                           only global and static variables are resolved`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupSwitch,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := parseTaskArgs(args)
		if errors.Is(err, errUsage) {
			return usageError(cmd)
		}
		if err != nil {
			return err
		}

		s := CurrentSession
		out := cmd.OutOrStdout()

		switch q.kind {
		case listAllTasks:
			clusters, err := s.dir.Clusters()
			if err != nil {
				return err
			}
			for _, c := range clusters {
				if err := printTasks(out, s.dir, c); err != nil {
					return err
				}
			}
			return nil
		case listClusterTasks:
			c, err := lookupCluster(s.dir, q.cluster)
			if err != nil {
				return err
			}
			return printTasks(out, s.dir, c)
		}

		task, err := q.resolve(s)
		if err != nil {
			return err
		}
		return switchTo(out, s, task)
	},
}

func init() {
	debugRootCmd.AddCommand(taskCmd)
}

type taskQueryKind int

const (
	listAllTasks taskQueryKind = iota
	listClusterTasks
	switchByAddress
	switchByVariable
	switchByOrdinal
)

type taskQuery struct {
	kind     taskQueryKind
	cluster  string
	addr     uint64
	variable string
	ordinal  int
}

// parseTaskArgs classifies the arguments of the task command
func parseTaskArgs(args []string) (taskQuery, error) {
	switch len(args) {
	case 0:
		return taskQuery{kind: listAllTasks}, nil
	case 1:
		arg := args[0]
		switch {
		case strings.HasPrefix(arg, "0x"):
			addr, err := symbol.ParseAddress(arg)
			if err != nil {
				return taskQuery{}, err
			}
			return taskQuery{kind: switchByAddress, addr: addr}, nil
		case strings.HasPrefix(arg, `"`):
			if len(arg) < 3 || !strings.HasSuffix(arg, `"`) {
				return taskQuery{}, &symbol.MalformedInputError{Input: arg, Want: "quoted variable"}
			}
			return taskQuery{kind: switchByVariable, variable: arg[1 : len(arg)-1]}, nil
		default:
			return taskQuery{kind: listClusterTasks, cluster: arg}, nil
		}
	case 2:
		id, err := strconv.Atoi(args[1])
		if err != nil || id < 0 {
			return taskQuery{}, &symbol.MalformedInputError{Input: args[1], Want: "task id"}
		}
		return taskQuery{kind: switchByOrdinal, cluster: args[0], ordinal: id}, nil
	default:
		return taskQuery{}, errUsage
	}
}

// resolve finds the task a switch query refers to
func (q taskQuery) resolve(s *DebugSession) (*ucpp.Task, error) {
	switch q.kind {
	case switchByAddress:
		return s.dir.TaskAt(q.addr)
	case switchByVariable:
		val, err := s.host.Eval(q.variable)
		if err != nil {
			return nil, err
		}
		addr, err := symbol.ParseAddress(val)
		if err != nil {
			return nil, err
		}
		return s.dir.TaskAt(addr)
	case switchByOrdinal:
		c, err := lookupCluster(s.dir, q.cluster)
		if err != nil {
			return nil, err
		}
		return s.dir.FindTaskByOrdinal(c, q.ordinal)
	default:
		return nil, fmt.Errorf("task query %d is not a switch", q.kind)
	}
}

func printTasks(out io.Writer, dir *ucpp.Directory, c *ucpp.Cluster) error {
	tasks, err := dir.Tasks(c)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Cluster %s (%#x)\n", c.Name, c.Addr)
	if len(tasks) == 0 {
		fmt.Fprintln(out, "  no task")
		return nil
	}

	layout := dir.Layout()
	tw := newTable(out, "ID", "Name", "Address", "State")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%d\t%s\t%#x\t%s\n", t.Ordinal, t.Name, t.Addr, layout.StateName(t.State))
	}
	return tw.Flush()
}

func switchTo(out io.Writer, s *DebugSession, task *ucpp.Task) error {
	snapshot, err := s.engine.SwitchTo(task)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Switched to task %s (%#x), switch #%d, depth %d\n",
		task.Name, task.Addr, snapshot.ID, s.engine.Depth())
	return printFrame(out, s)
}
