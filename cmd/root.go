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
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/ucdbg/pkg/config"
	"github.com/hitzhangjie/ucdbg/pkg/logflags"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ucdbg",
	Short: "uC++ 任务调试工具",
	Long: `ucdbg attaches to a stopped uC++ program, lists its clusters, processors
and tasks, and switches the inspected context onto any task's saved stack.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logflags.Setup(viper.GetBool(config.KeyLog), viper.GetString(config.KeyLogOutput), nil)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ucdbg.yaml)")
	rootCmd.PersistentFlags().Bool(config.KeyLog, false, "开启调试器日志")
	rootCmd.PersistentFlags().String(config.KeyLogOutput, "", "日志输出的模块，逗号分隔: switcher,directory,target")

	_ = viper.BindPFlag(config.KeyLog, rootCmd.PersistentFlags().Lookup(config.KeyLog))
	_ = viper.BindPFlag(config.KeyLogOutput, rootCmd.PersistentFlags().Lookup(config.KeyLogOutput))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".ucdbg" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".ucdbg")
	}

	// UCDBG_RUNTIME_SWITCH_SYMBOL overrides runtime.switch-symbol
	viper.SetEnvPrefix("ucdbg")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "read config file %s: %v\n", cfgFile, err)
		os.Exit(1)
	}
}
