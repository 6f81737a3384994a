package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPort      = 5000
	DefaultTimeout   = 30 * time.Second
	DefaultChunkSize = 8 * 1024
	DefaultLogLevel  = "info"

	EnvPrefix      = "LANSYNC"
	configFileName = "lansync"
)

// Keys understood in config files, environment variables (LANSYNC_<KEY>)
// and bound flags.
const (
	KeyHost           = "host"
	KeyPort           = "port"
	KeyDir            = "dir"
	KeyMirror         = "mirror"
	KeyAllowWipe      = "allow_wipe"
	KeyDryRun         = "dryrun"
	KeyTimeout        = "timeout"
	KeyIdleTimeout    = "idle_timeout"
	KeyExclude        = "exclude"
	KeyInclude        = "include"
	KeyHashCache      = "hash_cache"
	KeyChunkSize      = "chunk_size"
	KeyPlanJSONFile   = "plan_json_file"
	KeyResultJSONFile = "result_json_file"
	KeyLogLevel       = "log_level"
	KeyQuiet          = "quiet"
	KeyProfile        = "profile"
	KeyRegion         = "region"
)

type Config struct {
	Path string

	Host string
	Port int
	Dir  string

	Mirror    bool
	AllowWipe bool
	DryRun    bool

	Timeout     time.Duration
	IdleTimeout time.Duration

	Excludes  []string
	Includes  []string
	HashCache int
	ChunkSize int

	PlanJSONFile   string
	ResultJSONFile string

	LogLevel string
	Quiet    bool

	Profile string
	Region  string
}

// New returns a viper instance with lansync defaults and environment
// lookup configured.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyDir, ".")
	v.SetDefault(KeyMirror, true)
	v.SetDefault(KeyTimeout, DefaultTimeout)
	v.SetDefault(KeyChunkSize, DefaultChunkSize)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads path, or when path is empty the first lansync.{json,yaml,...}
// found in the working directory or ~/.config/lansync. A missing default
// file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "lansync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil
		}
		return fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
	}
	return nil
}

// FromViper snapshots v into a Config.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Path:           v.ConfigFileUsed(),
		Host:           v.GetString(KeyHost),
		Port:           v.GetInt(KeyPort),
		Dir:            v.GetString(KeyDir),
		Mirror:         v.GetBool(KeyMirror),
		AllowWipe:      v.GetBool(KeyAllowWipe),
		DryRun:         v.GetBool(KeyDryRun),
		Timeout:        v.GetDuration(KeyTimeout),
		IdleTimeout:    v.GetDuration(KeyIdleTimeout),
		Excludes:       v.GetStringSlice(KeyExclude),
		Includes:       v.GetStringSlice(KeyInclude),
		HashCache:      v.GetInt(KeyHashCache),
		ChunkSize:      v.GetInt(KeyChunkSize),
		PlanJSONFile:   v.GetString(KeyPlanJSONFile),
		ResultJSONFile: v.GetString(KeyResultJSONFile),
		LogLevel:       v.GetString(KeyLogLevel),
		Quiet:          v.GetBool(KeyQuiet),
		Profile:        v.GetString(KeyProfile),
		Region:         v.GetString(KeyRegion),
	}
}

// Validate checks the settings shared by every command.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Dir == "" {
		return errors.New("dir must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative, got %s", c.IdleTimeout)
	}
	if c.ChunkSize < 4*1024 || c.ChunkSize > 8*1024 {
		return fmt.Errorf("chunk size must be between 4096 and 8192 bytes, got %d", c.ChunkSize)
	}
	if c.HashCache < 0 {
		return fmt.Errorf("hash cache size must not be negative, got %d", c.HashCache)
	}
	return nil
}

// ValidateClient additionally requires a server host.
func (c *Config) ValidateClient() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
