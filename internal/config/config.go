// Package config defines the CLI structure for Kong parsing.
package config

import (
	"github.com/isaacs-12/nso-gc-bridge/internal/cmd"
)

type Log struct {
	Level   string `help:"Log level: trace, debug, info, warn, error" default:"info" env:"NSOGC_LOG_LEVEL"`
	File    string `help:"Log file path (default: none; logs only to console)" env:"NSOGC_LOG_FILE"`
	RawFile string `help:"Raw report log file path (default: none)" env:"NSOGC_LOG_RAW_FILE"`
}

// CLI is the root command structure.
type CLI struct {
	Log `embed:"" prefix:"log."`

	Bridge      cmd.Bridge        `cmd:"" default:"withargs" help:"Run the controller to DSU bridge"`
	Controllers cmd.Controllers   `cmd:"" help:"Manage remembered BLE controllers"`
	Config      cmd.ConfigCommand `cmd:"" help:"Configuration file helpers"`
	Version     cmd.Version       `cmd:"" help:"Print the version and check for updates"`
}
