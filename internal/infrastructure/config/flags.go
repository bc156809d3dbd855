package config

import (
	"os"

	"github.com/spf13/pflag"
)

// Flags are the command-line overrides shared by the binaries. They sit
// above the environment in precedence and only apply when set.
type Flags struct {
	set *pflag.FlagSet

	file      string
	component string
	sharedDir string
	host      string
	port      string
	logLevel  string
	logDev    bool
}

// AddFlags registers the override flags on fs.
func AddFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{set: fs}
	fs.StringVarP(&f.file, "config", "c", "", "YAML or TOML config file (default: $PERF_CONFIG_FILE)")
	fs.StringVar(&f.component, "component", "", "component id recorded in traces (default: $COMPONENT_ID)")
	fs.StringVar(&f.sharedDir, "shared-dir", "", "directory holding the shared trace file and exports")
	fs.StringVar(&f.host, "host", "", "HTTP listen host")
	fs.StringVarP(&f.port, "port", "p", "", "HTTP listen port")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&f.logDev, "log-dev", false, "human-readable development logging")
	return f
}

// Load builds the configuration: defaults, config file, environment,
// then any flags that were set.
func (f *Flags) Load() (*Config, error) {
	path := f.file
	if path == "" {
		path = os.Getenv("PERF_CONFIG_FILE")
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	if f.set.Changed("component") {
		cfg.Component = f.component
	}
	if f.set.Changed("shared-dir") {
		cfg.Tracer.SharedDir = f.sharedDir
	}
	if f.set.Changed("host") {
		cfg.Server.Host = f.host
	}
	if f.set.Changed("port") {
		cfg.Server.Port = f.port
	}
	if f.set.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if f.set.Changed("log-dev") {
		cfg.Logging.Development = f.logDev
	}
	return cfg, cfg.Validate()
}
