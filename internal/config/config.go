// Package config loads the updatekit configuration from a YAML file and
// the environment.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	RepositoryURL   string `mapstructure:"repository_url"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Workspace       string `mapstructure:"workspace"`
	DownloadWorkers int    `mapstructure:"download_workers"`
	FileRetries     int    `mapstructure:"file_retries"`
	SkipSpaceCheck  bool   `mapstructure:"skip_space_check"`
	ReportURL       string `mapstructure:"report_url"`
	LogLevel        string `mapstructure:"log_level"`
	LogFormat       string `mapstructure:"log_format"`
	LogFile         string `mapstructure:"log_file"`
}

func Default() *Config {
	return &Config{
		DownloadWorkers: 2,
		FileRetries:     3,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("updatekit")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("UPDATEKIT")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("repository_url", cfg.RepositoryURL)
	viper.Set("username", cfg.Username)
	viper.Set("password", cfg.Password)
	viper.Set("workspace", cfg.Workspace)
	viper.Set("download_workers", cfg.DownloadWorkers)
	viper.Set("file_retries", cfg.FileRetries)
	viper.Set("skip_space_check", cfg.SkipSpaceCheck)
	viper.Set("report_url", cfg.ReportURL)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("log_file", cfg.LogFile)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "updatekit.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// Restrict config file to owner-only access (may contain credentials)
	return os.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "UpdateKit")
	case "darwin":
		return "/Library/Application Support/UpdateKit"
	default:
		return "/etc/updatekit"
	}
}
