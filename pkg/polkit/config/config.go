//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package config provides configuration management for the authorization
// engine using [Viper] for flexible configuration sources.
//
// Configuration can be provided via:
//   - YAML configuration files
//   - Environment variables with the POLKIT_ prefix
//   - Programmatic defaults
//
// # Configuration File
//
// By default, the engine looks for polkitd-config.yaml in the current
// directory. Override the location using environment variables:
//
//	POLKIT_CONFIG_PATH=/etc/polkitd
//	POLKIT_CONFIG_FILENAME=production-config
//
// [Viper]: https://github.com/spf13/viper
package config

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/polkit-go/polkitd/internal/logging"
	"github.com/spf13/viper"
)

// Environment variable and default path constants for configuration loading.
const (
	// EnvVarPrefix is the prefix for all engine environment variables.
	// For example, the key "log.level" becomes POLKIT_LOG_LEVEL.
	EnvVarPrefix string = "POLKIT"

	// ConfigPathEnv specifies the directory containing the configuration file.
	ConfigPathEnv string = "POLKIT_CONFIG_PATH"

	// ConfigFileNameEnv specifies the configuration file name (without extension).
	ConfigFileNameEnv string = "POLKIT_CONFIG_FILENAME"

	// ConfigDefaultPath is the default directory to search for config files.
	ConfigDefaultPath string = "."

	// ConfigDefaultFilename is the default configuration file name (without extension).
	ConfigDefaultFilename string = "polkitd-config"
)

// Configuration key constants for use with [VConfig].
const (
	logLevel string = "log.level"

	// RuleDirs is an ordered list of directories to load "*.rules" files
	// from, highest precedence first. Default: the four standard
	// directories from spec §6, in precedence order.
	//
	// Set via environment: POLKIT_RULES_DIRS (whitespace separated)
	RuleDirs string = "rules.dirs"

	// PolicyDirs is an ordered list of directories to load "*.policy"
	// action-description files from.
	//
	// Set via environment: POLKIT_POLICY_DIRS (whitespace separated)
	PolicyDirs string = "policy.dirs"

	// OverrideDir is the directory holding "<action_id>.defaults-override" files.
	OverrideDir string = "policy.overridedir"

	// RunawayKillerTimeout bounds every rule-host invocation (initial load
	// and each _runRules/_runAdminRules call). Default: 15s.
	RunawayKillerTimeout string = "ruleshost.runawaytimeout"

	// SpawnTimeout bounds polkit.spawn(). Fixed at 10s by spec, but exposed
	// for test harnesses that need a shorter bound.
	SpawnTimeout string = "ruleshost.spawntimeout"

	// AllowSpawn gates whether polkit.spawn is exposed to rule scripts at all.
	AllowSpawn string = "ruleshost.allowspawn"

	// NetgroupSupported reports whether the host platform has a netgroup
	// database; when false, polkit._userIsInNetGroup always returns false.
	NetgroupSupported string = "ruleshost.netgroupsupported"

	// AgentResponseTimeout is a configuration key for the agent response
	// bound (default 5m). No component reads it: the authority always waits
	// agent.ResponseTimeout for an authentication agent to respond.
	AgentResponseTimeout string = "agent.responsetimeout"

	// TempCacheSweepInterval controls how often the temporary-authorization
	// cache actively evicts expired grants (lookups also lazily filter them).
	TempCacheSweepInterval string = "tempcache.sweepinterval"
)

var (
	once     sync.Once
	loadOnce sync.Once
	loadErr  error

	// VConfig is the global Viper configuration instance for the engine.
	VConfig *viper.Viper
	logger  = logging.GetLogger("polkitd.config")
)

func getConfigPath() string {
	if v, ok := os.LookupEnv(ConfigPathEnv); ok {
		return v
	}
	return ConfigDefaultPath
}

func getConfigFileName() string {
	if v, ok := os.LookupEnv(ConfigFileNameEnv); ok {
		return v
	}
	return ConfigDefaultFilename
}

// DefaultRuleDirs are the four standard rule directories in precedence
// order (highest first), per spec §6.
var DefaultRuleDirs = []string{
	"/run/polkit-1/rules.d",
	"/etc/polkit-1/rules.d",
	"/usr/local/share/polkit-1/rules.d",
	"/usr/share/polkit-1/rules.d",
}

// DefaultPolicyDirs are the standard action-description directories.
var DefaultPolicyDirs = []string{
	"/etc/polkit-1/actions",
	"/usr/share/polkit-1/actions",
}

func doInitialize() {
	VConfig = viper.New()

	VConfig.AddConfigPath(getConfigPath())
	VConfig.SetConfigName(getConfigFileName())
	VConfig.SetConfigType("yaml")

	VConfig.SetEnvPrefix(EnvVarPrefix)
	VConfig.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	VConfig.AutomaticEnv()

	VConfig.SetDefault(logLevel, ".:info")
	VConfig.SetDefault(RuleDirs, DefaultRuleDirs)
	VConfig.SetDefault(PolicyDirs, DefaultPolicyDirs)
	VConfig.SetDefault(OverrideDir, "/etc/polkit-1/localauthority")
	VConfig.SetDefault(RunawayKillerTimeout, 15*time.Second)
	VConfig.SetDefault(SpawnTimeout, 10*time.Second)
	VConfig.SetDefault(AllowSpawn, true)
	VConfig.SetDefault(NetgroupSupported, true)
	VConfig.SetDefault(AgentResponseTimeout, 5*time.Minute)
	VConfig.SetDefault(TempCacheSweepInterval, 30*time.Second)
}

// Init initializes the configuration system without loading config files.
// Safe to call multiple times; subsequent calls are no-ops.
func Init() {
	once.Do(func() {
		doInitialize()
	})
}

// Load initializes configuration and loads settings from files and
// environment. Safe to call concurrently; subsequent calls after the first
// successful load are no-ops that return nil.
func Load() error {
	loadOnce.Do(func() {
		Init()

		earlyLoglevel := os.Getenv("POLKIT_LOG_LEVEL")
		if earlyLoglevel != "" {
			if err := logging.UpdateLogLevels(earlyLoglevel); err != nil {
				logger.SysErrorf("failed updating early log level %s: %+v", earlyLoglevel, err)
				loadErr = err
				return
			}
		}

		logger.SysDebugf("loading configuration from %s/%s.yaml", getConfigPath(), getConfigFileName())
		err := VConfig.ReadInConfig()
		if err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				logger.SysWarnf("error reading config; using defaults: %+v", err)
			}
			logger.SysDebugf("no config file found at %s/%s.yaml", getConfigPath(), getConfigFileName())
		}

		loglevel := VConfig.GetString(logLevel)
		if err := logging.UpdateLogLevels(loglevel); err != nil {
			logger.SysErrorf("failed updating log level %s: %+v", loglevel, err)
			loadErr = err
			return
		}

		if logger.IsDebugEnabled() {
			VConfig.DebugTo(logger.Out())
		}
	})

	return loadErr
}

// ResetConfig clears all configuration and reinitializes with defaults.
//
// WARNING: intended for testing only.
func ResetConfig() {
	VConfig = nil
	once = sync.Once{}
	loadOnce = sync.Once{}
	loadErr = nil
	Init()
	_ = Load()
}
