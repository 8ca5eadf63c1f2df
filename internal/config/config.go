// Package config handles tool configuration loading and management.
package config

// Config holds all md5tool settings.
type Config struct {
	Data    DataConfig    `yaml:"data"`
	Export  ExportConfig  `yaml:"export"`
	Logging LoggingConfig `yaml:"logging"`
}

// DataConfig locates game data and material scripts.
type DataConfig struct {
	// Roots are mounted in order; later roots shadow earlier ones. Each
	// entry is a directory or a pk4 archive.
	Roots        []string `yaml:"roots"`
	MaterialGlob string   `yaml:"material_glob"` // pattern for .mtr scripts inside the roots
}

// ExportConfig holds glTF export defaults.
type ExportConfig struct {
	EmbedTextures bool   `yaml:"embed_textures"`
	Animations    bool   `yaml:"animations"`
	SceneName     string `yaml:"scene_name"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Roots:        []string{"."},
			MaterialGlob: "materials/*.mtr",
		},
		Export: ExportConfig{
			EmbedTextures: true,
			Animations:    true,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
