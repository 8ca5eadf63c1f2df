package config

import (
	"flag"
	"strings"
)

var (
	flagConfig    = flag.String("config", "", "Path to config file")
	flagDebug     = flag.Bool("debug", false, "Enable debug logging")
	flagRoots     = flag.String("roots", "", "Comma-separated data roots (directories or pk4 archives)")
	flagMaterials = flag.String("materials", "", "Glob for material scripts inside the data roots")
	flagLogFile   = flag.String("logfile", "", "Write logs to this file")
	flagScene     = flag.String("scene", "", "Scene name for exported documents")
	flagBare      = flag.Bool("bare", false, "Export geometry only (no textures, no animation clips)")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via the -config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagRoots != "" {
		cfg.Data.Roots = splitList(*flagRoots)
	}
	if *flagMaterials != "" {
		cfg.Data.MaterialGlob = *flagMaterials
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
	if *flagScene != "" {
		cfg.Export.SceneName = *flagScene
	}
	if *flagBare {
		cfg.Export.EmbedTextures = false
		cfg.Export.Animations = false
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
