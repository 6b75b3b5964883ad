package debug

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/hitzhangjie/ucdbg/pkg/host"
	"github.com/hitzhangjie/ucdbg/pkg/switcher"
	"github.com/hitzhangjie/ucdbg/pkg/ucpp"
)

const (
	cmdGroupAnnotation = "cmd_group_annotation"

	cmdGroupInfo    = "1-info"
	cmdGroupSwitch  = "2-switch"
	cmdGroupInspect = "3-inspect"
	cmdGroupOthers  = "4-other"
	cmdGroupCobra   = "other"

	cmdGroupDelimiter = "-"

	prefix    = "ucdbg> "
	descShort = "ucdbg interactive debugging commands"
)

var debugRootCmd = &cobra.Command{
	Use:           "help [command]",
	Short:         descShort,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var (
	CurrentSession *DebugSession
)

// Tracee the traced process
type Tracee interface {
	// Detach releases the process, it continues running
	Detach() error
	// Stop keeps the process stopped once the tracer is gone
	Stop() error
}

// DebugSession 调试会话
type DebugSession struct {
	done   chan bool
	prefix string
	root   *cobra.Command
	liner  *liner.State
	last   string

	defers []func()

	host   host.Host
	dir    *ucpp.Directory
	engine *switcher.Engine
	tracee Tracee

	mu       sync.Mutex // serializes commands with Cleanup and Shutdown
	released bool
}

// NewDebugSession 创建一个debug专用的交互管理器
func NewDebugSession(h host.Host, dir *ucpp.Directory, engine *switcher.Engine, tracee Tracee) *DebugSession {

	fn := func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()

		// 描述信息
		fmt.Fprintln(out, cmd.Short)
		fmt.Fprintln(out)

		// 使用信息
		fmt.Fprintln(out, cmd.Use)
		fmt.Fprintln(out, cmd.Flags().FlagUsages())

		// 命令分组
		usage := helpMessageByGroups(cmd)
		fmt.Fprintln(out, usage)
	}
	debugRootCmd.SetHelpFunc(fn)

	return &DebugSession{
		done:   make(chan bool),
		prefix: prefix,
		root:   debugRootCmd,
		host:   h,
		dir:    dir,
		engine: engine,
		tracee: tracee,
	}
}

func (s *DebugSession) Start() {
	s.liner = liner.NewLiner()
	s.liner.SetCtrlCAborts(true)
	s.liner.SetCompleter(completer)
	s.liner.SetTabCompletionStyle(liner.TabPrints)

	defer func() {
		for idx := len(s.defers) - 1; idx >= 0; idx-- {
			s.defers[idx]()
		}
	}()

	for {
		select {
		case <-s.done:
			s.liner.Close()
			return
		default:
		}

		txt, err := s.liner.Prompt(s.prefix)
		if err == liner.ErrPromptAborted {
			continue
		}
		if err != nil {
			// EOF or the terminal went away
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "read command: %v\n", err)
			}
			s.liner.Close()
			return
		}

		txt = strings.TrimSpace(txt)
		if len(txt) != 0 {
			s.last = txt
			s.liner.AppendHistory(txt)
		} else {
			txt = s.last
		}

		if err := s.Exec(txt); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// Exec runs one command line
func (s *DebugSession) Exec(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.root.SetArgs(args)
	return s.root.Execute()
}

func (s *DebugSession) AtExit(fn func()) *DebugSession {
	s.defers = append(s.defers, fn)
	return s
}

func (s *DebugSession) Stop() {
	close(s.done)
}

// Cleanup 清理调试会话，切换过的任务先恢复到原始上下文，再detach被调试进程。
// 原始上下文恢复失败时不detach，进程保持停止状态。
func Cleanup() {
	s := CurrentSession
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.release(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
}

// Shutdown cleans up from outside the shell loop, e.g. on a signal, and
// gives the terminal back
func Shutdown() {
	s := CurrentSession
	if s == nil {
		return
	}
	Cleanup()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liner != nil {
		s.liner.Close()
	}
}

// release must be called with s.mu held
func (s *DebugSession) release() error {
	if s.released {
		return nil
	}
	if s.engine.Depth() != 0 {
		if _, err := s.engine.Reset(); err != nil {
			// a detached tracee would resume on the forged registers
			if s.tracee != nil {
				if serr := s.tracee.Stop(); serr != nil {
					return fmt.Errorf("origin context not restored: %v, stop tracee err: %v", err, serr)
				}
			}
			return fmt.Errorf("origin context not restored, tracee left stopped: %w", err)
		}
	}
	if s.tracee != nil {
		if err := s.tracee.Detach(); err != nil {
			return fmt.Errorf("detach tracee, err: %w", err)
		}
		fmt.Fprintln(os.Stdout, "tracee detached, leave it running")
	}
	s.released = true
	return nil
}

func completer(line string) []string {
	cmds := []string{}
	for _, c := range debugRootCmd.Commands() {
		// complete cmd
		if strings.HasPrefix(c.Use, line) {
			cmds = append(cmds, strings.Split(c.Use, " ")[0])
		}
		// complete cmd's aliases
		for _, alias := range c.Aliases {
			if strings.HasPrefix(alias, line) {
				cmds = append(cmds, alias)
			}
		}
	}
	return cmds
}

// newTable returns a tabwriter with the header row written
func newTable(out io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	return tw
}

var errUsage = errors.New("invalid arguments")

func usageError(cmd *cobra.Command) error {
	return fmt.Errorf("%w, usage: %s", errUsage, cmd.Use)
}

// helpMessageByGroups 将各个命令按照分组归类，再展示帮助信息
func helpMessageByGroups(cmd *cobra.Command) string {

	// key:group, val:sorted commands in same group
	groups := map[string][]string{}
	for _, c := range cmd.Commands() {
		// 如果没有指定命令分组，放入other组
		var groupName string
		v, ok := c.Annotations[cmdGroupAnnotation]
		if !ok {
			groupName = cmdGroupCobra
		} else {
			groupName = v
		}

		groupCmds := groups[groupName]
		groupCmds = append(groupCmds, fmt.Sprintf("  %-16s:%s", c.Name(), c.Short))
		sort.Strings(groupCmds)

		groups[groupName] = groupCmds
	}

	if len(groups[cmdGroupCobra]) != 0 {
		groups[cmdGroupOthers] = append(groups[cmdGroupOthers], groups[cmdGroupCobra]...)
	}
	delete(groups, cmdGroupCobra)

	// 按照分组名进行排序
	groupNames := []string{}
	for k := range groups {
		groupNames = append(groupNames, k)
	}
	sort.Strings(groupNames)

	// 按照group分组，并对组内命令进行排序
	buf := bytes.Buffer{}
	for _, groupName := range groupNames {
		commands := groups[groupName]

		group := strings.Split(groupName, cmdGroupDelimiter)[1]
		buf.WriteString(fmt.Sprintf("- [%s]\n", group))

		for _, cmd := range commands {
			buf.WriteString(fmt.Sprintf("%s\n", cmd))
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
