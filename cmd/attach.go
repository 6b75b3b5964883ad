/*
Copyright © 2020 hit.zhangjie@gmail.com

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/ucdbg/cmd/debug"
	"github.com/hitzhangjie/ucdbg/pkg/config"
	"github.com/hitzhangjie/ucdbg/pkg/switcher"
	"github.com/hitzhangjie/ucdbg/pkg/symbol"
	"github.com/hitzhangjie/ucdbg/pkg/target"
	"github.com/hitzhangjie/ucdbg/pkg/ucpp"
)

// attachCmd represents the attach command
var attachCmd = &cobra.Command{
	Use:   "attach <pid>",
	Short: "调试运行中的uC++进程",
	Long: `调试运行中的uC++进程。

attach会停止进程的所有线程，退出调试会话时先恢复原始上下文，再detach，进程继续运行。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		pid, err := strconv.Atoi(args[0])
		if err != nil || pid <= 0 {
			return &symbol.MalformedInputError{Input: args[0], Want: "pid"}
		}

		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}

		dbp, err := target.AttachTargetProcess(pid)
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = dbp.Detach()
			}
		}()

		session, err := newSession(dbp, cfg)
		if err != nil {
			return err
		}
		debug.CurrentSession = session.AtExit(debug.Cleanup)
		return nil
	},
	PostRun: func(cmd *cobra.Command, args []string) {
		debug.CurrentSession.Start()
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

// newSession loads the symbols and layouts of the attached process and
// builds the directory and switch engine the shell commands share
func newSession(dbp *target.DebuggedProcess, cfg *config.Config) (*debug.DebugSession, error) {
	mapStart, err := dbp.ExeMapStart()
	if err != nil {
		return nil, fmt.Errorf("locate %s in memory: %v", dbp.Exe, err)
	}
	// through /proc, the file on disk may have been replaced since exec
	bi, err := symbol.Analyze(fmt.Sprintf("/proc/%d/exe", dbp.Process.Pid), mapStart)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %v", dbp.Exe, err)
	}

	var types ucpp.TypeInfo
	if bi.Types != nil {
		types = bi.Types
	}
	layout, err := ucpp.LoadLayout(types, cfg.LayoutConfig())
	if err != nil {
		return nil, err
	}

	h := target.NewHost(dbp, bi)
	dir := ucpp.NewDirectory(h, layout, cfg.ClustersSymbol)
	engine := switcher.NewEngine(h, dir, cfg.Switch)

	fmt.Printf("attached to %s (pid %d), %d symbols loaded\n", dbp.Command, dbp.Process.Pid, bi.Symbols.Len())
	return debug.NewDebugSession(h, dir, engine, dbp), nil
}
