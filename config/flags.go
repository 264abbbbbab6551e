package config

import (
	"flag"
	"fmt"
)

// Flags are the command line options of the binary.
type Flags struct {
	ConfigPath string
	Setup      bool
	// Listen overrides the configured listen address when set.
	Listen string
}

// ParseFlags parses args (without the program name).
func ParseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("lendpool", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", "", "path to yaml config")
	fs.BoolVar(&f.Setup, "setup", false, "run the interactive config wizard")
	fs.StringVar(&f.Listen, "listen", "", "http listen address, overrides the config")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if f.ConfigPath == "" && !f.Setup {
		return Flags{}, fmt.Errorf("--config is required (or run with --setup)")
	}
	return f, nil
}
