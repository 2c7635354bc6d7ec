package dsu

import "time"

// ServerConfig configures the DSU UDP server.
type ServerConfig struct {
	Host          string        `help:"DSU listen host" default:"127.0.0.1" env:"NSOGC_DSU_HOST"`
	Port          int           `help:"DSU base UDP port" default:"26760" env:"NSOGC_DSU_PORT"`
	PortFallbacks int           `help:"Consecutive ports to try when the base port is taken" default:"4"`
	PushInterval  time.Duration `help:"Minimum interval between proactive pad data pushes" default:"4ms"`
	ReadTimeout   time.Duration `help:"Socket read timeout driving the push cadence" default:"2ms"`
	ServerID      uint32        `help:"DSU server id (0 = random)" default:"0"`
}
