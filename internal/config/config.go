package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	configDirEnv   = "MANHOLEDEX_CONFIG_DIR"
	configFileName = "config"
	configFileType = "yaml"

	keyDBPath          = "db_path"
	keyLogLevel        = "log_level"
	keyLogFile         = "log_file"
	keyBackupDir       = "backup_dir"
	keyCompressionTier = "compression_tier"
	keyPrimaryAppKey   = "primary_app_key"
	keySecondaryAppKey = "secondary_app_key"
	keyLicenseKeys     = "license_keys"
	keyFriendCodes     = "friend_codes"
)

type Config struct {
	DBPath          string
	LogLevel        string
	LogFile         string
	BackupDir       string
	CompressionTier string
	PrimaryAppKey   string
	SecondaryAppKey string
	LicenseKeys     []string
	FriendCodes     []string
}

// Load reads config.yaml from MANHOLEDEX_CONFIG_DIR (default ".") and lets
// environment variables such as DB_PATH override it. A missing file is not an
// error.
func Load() (*Config, error) {
	dir := os.Getenv(configDirEnv)
	if dir == "" {
		dir = "."
	}
	return LoadFrom(dir)
}

func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetDefault(keyDBPath, "manholedex.db")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFile, "")
	v.SetDefault(keyBackupDir, "backups")
	v.SetDefault(keyCompressionTier, "standard")
	v.SetDefault(keyPrimaryAppKey, "manhole")
	v.SetDefault(keySecondaryAppKey, "companion")
	v.SetDefault(keyLicenseKeys, []string{})
	v.SetDefault(keyFriendCodes, []string{})

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(dir)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return &Config{
		DBPath:          v.GetString(keyDBPath),
		LogLevel:        v.GetString(keyLogLevel),
		LogFile:         v.GetString(keyLogFile),
		BackupDir:       v.GetString(keyBackupDir),
		CompressionTier: v.GetString(keyCompressionTier),
		PrimaryAppKey:   v.GetString(keyPrimaryAppKey),
		SecondaryAppKey: v.GetString(keySecondaryAppKey),
		LicenseKeys:     splitList(v.GetStringSlice(keyLicenseKeys)),
		FriendCodes:     splitList(v.GetStringSlice(keyFriendCodes)),
	}, nil
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
