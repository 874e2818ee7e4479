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

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chordtoll/posinvck-go/cfg"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	MountConfig   cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "posinvck [flags] base mount_point",
	Short: "Mount base as a pass-through filesystem at mount_point, checking POSIX invariants as it goes",
	Long: `posinvck mounts a FUSE filesystem at mount_point that forwards every
operation to the directory tree rooted at base, while maintaining an
in-memory shadow model of the filesystem's state. Every operation's observed
result is cross-checked against what POSIX predicts; a mismatch aborts the
process.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		base, mountPoint, err := populateArgs(args)
		if err != nil {
			return err
		}
		if err := validateConfig(); err != nil {
			return err
		}
		MountConfig.Base = cfg.ResolvedPath(base)
		MountConfig.Mountpoint = cfg.ResolvedPath(mountPoint)
		foreground, err := cmd.Flags().GetBool("foreground")
		if err != nil {
			return err
		}
		MountConfig.Foreground = foreground || os.Getenv(inBackgroundEnvVar) == "true"
		return Mount(&MountConfig)
	},
}

func populateArgs(args []string) (base string, mountPoint string, err error) {
	base, err = cfg.GetResolvedPath(args[0])
	if err != nil {
		return "", "", fmt.Errorf("canonicalizing base directory: %w", err)
	}
	// Canonicalize the mount point, making it absolute. This is important when
	// daemonizing below, since the daemon will change its working directory
	// before running this code again.
	mountPoint, err = cfg.GetResolvedPath(args[1])
	if err != nil {
		return "", "", fmt.Errorf("canonicalizing mount point: %w", err)
	}
	return base, mountPoint, nil
}

func validateConfig() error {
	if MountConfig.Logging.Severity == "" {
		MountConfig.Logging = cfg.GetDefaultLoggingConfig()
	}
	if MountConfig.Shadow == (cfg.ShadowConfig{}) {
		MountConfig.Shadow = cfg.GetDefaultShadowConfig()
	}
	return nil
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to the config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetDefault("debug.exit-on-invariant-violation", true)
	viper.SetDefault("debug.persist", true)

	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&MountConfig, viper.DecodeHook(cfg.DecodeHook()))
		return
	}
	resolved, err := cfg.GetResolvedPath(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("error while resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&MountConfig, viper.DecodeHook(cfg.DecodeHook()))
}
