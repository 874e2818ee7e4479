// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for a single mount, assembled
// by cmd/root.go from CLI flags, an optional config file and defaults.
type Config struct {
	Base       ResolvedPath `yaml:"base"`
	Mountpoint ResolvedPath `yaml:"mountpoint"`

	Logging LoggingConfig `yaml:"logging"`

	Shadow ShadowConfig `yaml:"shadow"`

	Debug DebugConfig `yaml:"debug"`

	// Foreground is CLI-only: it is never read from a config file; it is set
	// by the --foreground flag or, in the daemonized child, by the
	// in-background environment variable.
	Foreground bool `yaml:"-"`
}

// LoggingConfig configures internal/logger.Init.
type LoggingConfig struct {
	Severity  LogSeverity            `yaml:"severity"`
	Format    string                 `yaml:"format"`
	FilePath  ResolvedPath           `yaml:"file-path"`
	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

// LogRotateLoggingConfig mirrors lumberjack.Logger's rotation fields.
// internal/logger.Init does not read it: its rotating file sink uses fixed
// rotation settings.
type LogRotateLoggingConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// ShadowConfig toggles which internal/shadow tables are maintained; it maps
// one-to-one onto shadow.Config.
type ShadowConfig struct {
	CheckMetadata bool `yaml:"check-metadata"`
	CheckDirs     bool `yaml:"check-dirs"`
	CheckData     bool `yaml:"check-data"`
	CheckXattrs   bool `yaml:"check-xattrs"`
}

// DebugConfig controls developer-facing behavior not part of the POSIX
// surface itself.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`
	LogMutex                 bool `yaml:"log-mutex"`
	Persist                  bool `yaml:"persist"`
}

// BindFlags registers every CLI flag this command accepts and binds each one
// to its viper configuration key, so that precedence between flags, config
// file and defaults is resolved uniformly by viper.Unmarshal.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("log-severity", "", "", "Logging severity: TRACE, DEBUG, INFO, WARNING, ERROR or OFF.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "", "Logging output format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a log file. When unset, logs go to stderr.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.BoolP("check-metadata", "", true, "Cross-check inode metadata against the shadow model.")
	if err = viper.BindPFlag("shadow.check-metadata", flagSet.Lookup("check-metadata")); err != nil {
		return err
	}

	flagSet.BoolP("check-dirs", "", true, "Cross-check directory listings against the shadow model.")
	if err = viper.BindPFlag("shadow.check-dirs", flagSet.Lookup("check-dirs")); err != nil {
		return err
	}

	flagSet.BoolP("check-data", "", false, "Cross-check file contents against the shadow model. Expensive; off by default.")
	if err = viper.BindPFlag("shadow.check-data", flagSet.Lookup("check-data")); err != nil {
		return err
	}

	flagSet.BoolP("check-xattrs", "", true, "Cross-check extended attributes against the shadow model.")
	if err = viper.BindPFlag("shadow.check-xattrs", flagSet.Lookup("check-xattrs")); err != nil {
		return err
	}

	flagSet.BoolP("exit-on-invariant-violation", "", true, "Abort the process when an invariant check fails.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("exit-on-invariant-violation")); err != nil {
		return err
	}

	flagSet.BoolP("debug-mutex", "", false, "Sets debug.log-mutex; no code reads this setting, so it has no effect.")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug-mutex")); err != nil {
		return err
	}

	flagSet.BoolP("persist", "", true, "Persist the shadow model to sidecar files on clean unmount and reload it on the next mount.")
	if err = viper.BindPFlag("debug.persist", flagSet.Lookup("persist")); err != nil {
		return err
	}

	flagSet.BoolP("foreground", "", false, "Run in the foreground instead of daemonizing.")

	return nil
}
