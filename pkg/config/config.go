// Package config loads the runtime description of the uC++ target from
// viper: symbol names, switch constants and structure layout overrides.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/hitzhangjie/ucdbg/pkg/switcher"
	"github.com/hitzhangjie/ucdbg/pkg/ucpp"
)

// configuration keys
const (
	KeyClustersSymbol   = "runtime.clusters-symbol"
	KeyClustersIndirect = "runtime.clusters-indirect"
	KeySwitchSymbol     = "runtime.switch-symbol"
	KeyResumeOffset     = "runtime.resume-offset"
	KeyStackAdjust      = "runtime.stack-adjust"
	KeyTerminatedState  = "runtime.terminated-state"
	KeyLayout           = "layout"
	KeyLog              = "log"
	KeyLogOutput        = "log-output"
)

// Config runtime description of the target
type Config struct {
	ClustersSymbol   string
	ClustersIndirect *bool // nil: decided by the debug info
	Switch           switcher.Config
	TerminatedState  string
	Layout           map[string]uint64 // layout key => byte offset
}

// SetDefaults registers the defaults for uC++ on x86-64
func SetDefaults(v *viper.Viper) {
	def := switcher.DefaultConfig()
	v.SetDefault(KeyClustersSymbol, ucpp.DefaultClustersSymbol)
	v.SetDefault(KeySwitchSymbol, def.SwitchSymbol)
	v.SetDefault(KeyResumeOffset, def.ResumeOffset)
	v.SetDefault(KeyStackAdjust, def.StackAdjust)
	v.SetDefault(KeyTerminatedState, ucpp.DefaultTerminatedState)
}

// Load reads the configuration from v
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{
		ClustersSymbol: v.GetString(KeyClustersSymbol),
		Switch: switcher.Config{
			SwitchSymbol: v.GetString(KeySwitchSymbol),
			ResumeOffset: v.GetUint64(KeyResumeOffset),
			StackAdjust:  v.GetUint64(KeyStackAdjust),
		},
		TerminatedState: v.GetString(KeyTerminatedState),
		Layout:          map[string]uint64{},
	}
	if v.IsSet(KeyClustersIndirect) {
		indirect := v.GetBool(KeyClustersIndirect)
		cfg.ClustersIndirect = &indirect
	}
	if cfg.ClustersSymbol == "" || cfg.Switch.SwitchSymbol == "" {
		return nil, fmt.Errorf("%s and %s must not be empty", KeyClustersSymbol, KeySwitchSymbol)
	}

	known := map[string]bool{}
	for _, key := range ucpp.LayoutKeys() {
		known[key] = true
		if full := KeyLayout + "." + key; v.IsSet(full) {
			cfg.Layout[key] = v.GetUint64(full)
		}
	}

	// keys are case insensitive in viper, layout keys are lower case already
	if sub := v.Sub(KeyLayout); sub != nil {
		var unknown []string
		for _, key := range sub.AllKeys() {
			if !known[key] {
				unknown = append(unknown, key)
			}
		}
		if len(unknown) != 0 {
			sort.Strings(unknown)
			return nil, fmt.Errorf("unknown layout keys: %s, supported: %s",
				strings.Join(unknown, ", "), strings.Join(ucpp.LayoutKeys(), ", "))
		}
	}
	return cfg, nil
}

// LayoutConfig returns the options ucpp.LoadLayout takes
func (c *Config) LayoutConfig() ucpp.LayoutConfig {
	return ucpp.LayoutConfig{
		Overrides:        c.Layout,
		TerminatedState:  c.TerminatedState,
		ClustersSymbol:   c.ClustersSymbol,
		ClustersIndirect: c.ClustersIndirect,
	}
}
