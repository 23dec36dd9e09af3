// Package config loads and validates the grd server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/grd-project/grd/internal/logging"
)

var log = logging.L("config")

// Config is the root configuration tree, loaded from an INI file with
// sections mirroring the struct below.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	TLS      TLSConfig      `mapstructure:"tls"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Encoding EncodingConfig `mapstructure:"encoding"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Service  ServiceConfig  `mapstructure:"service"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

type TLSConfig struct {
	Certificate string `mapstructure:"certificate"`
	PrivateKey  string `mapstructure:"private_key"`
}

type CaptureConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// EncodingConfig controls the encoding manager (§4.5). Mode is one of
// "auto", "raw", "rfx". EnableDiff toggles tile-hash dirty-rect detection.
type EncodingConfig struct {
	Mode       string `mapstructure:"mode"`
	EnableDiff bool   `mapstructure:"enable_diff"`
}

// AuthConfig controls NLA credential validation. Mode is "static" (fixed
// username/password checked locally) or "delegate" (credentials forwarded
// to the system daemon for PAM authentication, requires Service.System).
type AuthConfig struct {
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Mode       string `mapstructure:"mode"`
	PAMService string `mapstructure:"pam_service"`
}

// ServiceConfig selects the deployment mode (§4.9).
type ServiceConfig struct {
	System bool `mapstructure:"system"`
	RDPSSO bool `mapstructure:"rdp_sso"`

	// HandoverTokenFile points at the INI-formatted shared secret a
	// system-daemon instance and its per-user workers both hold, used
	// to authenticate a worker's StartHandover call.
	HandoverTokenFile string `mapstructure:"handover_token_file"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Default returns a Config with safe, runnable defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress: "0.0.0.0",
			Port:        3389,
		},
		Capture: CaptureConfig{
			Width:  1920,
			Height: 1080,
		},
		Encoding: EncodingConfig{
			Mode:       "auto",
			EnableDiff: true,
		},
		Auth: AuthConfig{
			Mode:       "static",
			PAMService: "grd",
		},
		Service: ServiceConfig{
			HandoverTokenFile: "/etc/grd/handover.token",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load reads the INI config at cfgFile (or the standard search path if
// empty), overlays GRD_-prefixed environment variables, and runs tiered
// validation. Fatal validation errors abort startup; warnings are logged.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("grd")
		v.SetConfigType("ini")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("GRD")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func configDir() string {
	return "/etc/grd"
}

// SaveTo writes cfg to cfgFile in INI form, restricted to owner-only access
// since the auth section may carry a static password.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.SetConfigType("ini")
	v.Set("server.bind_address", cfg.Server.BindAddress)
	v.Set("server.port", cfg.Server.Port)
	v.Set("tls.certificate", cfg.TLS.Certificate)
	v.Set("tls.private_key", cfg.TLS.PrivateKey)
	v.Set("capture.width", cfg.Capture.Width)
	v.Set("capture.height", cfg.Capture.Height)
	v.Set("encoding.mode", cfg.Encoding.Mode)
	v.Set("encoding.enable_diff", cfg.Encoding.EnableDiff)
	v.Set("auth.username", cfg.Auth.Username)
	v.Set("auth.password", cfg.Auth.Password)
	v.Set("auth.mode", cfg.Auth.Mode)
	v.Set("auth.pam_service", cfg.Auth.PAMService)
	v.Set("service.system", cfg.Service.System)
	v.Set("service.rdp_sso", cfg.Service.RDPSSO)
	v.Set("service.handover_token_file", cfg.Service.HandoverTokenFile)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)
	v.Set("log.file", cfg.Log.File)

	dir := filepath.Dir(cfgFile)
	if dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgFile); err != nil {
		return err
	}

	return os.Chmod(cfgFile, 0600)
}
