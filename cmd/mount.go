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

	"github.com/jacobsa/daemonize"

	"github.com/chordtoll/posinvck-go/cfg"
	"github.com/chordtoll/posinvck-go/internal/logger"
	"github.com/chordtoll/posinvck-go/internal/mountrunner"
)

// inBackgroundEnvVar marks a re-exec'd child as already running under
// daemonize, the same way gcsfuse's logger.GCSFuseInBackgroundMode does, so
// the child never tries to daemonize itself a second time.
const inBackgroundEnvVar = "POSINVCK_IN_BACKGROUND_MODE"

// daemonizeAndWait re-execs the current binary with --foreground placed
// before the original arguments,
// waiting for the child to either report a successful mount or exit with an
// error, mirroring legacy_main.go's non-foreground branch.
func daemonizeAndWait() error {
	path, err := os.Executable()
	if err != nil {
		return fmt.Errorf("os.Executable: %w", err)
	}

	args := append([]string{"--foreground"}, os.Args[1:]...)
	env := append(os.Environ(), inBackgroundEnvVar+"=true")

	if err := daemonize.Run(path, args, env, os.Stdout); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}
	logger.Infof(mountrunner.SuccessfulMountMessage)
	return nil
}

// Mount initializes logging then either daemonizes or runs the mount
// lifecycle in the foreground, per config.Foreground.
func Mount(config *cfg.Config) error {
	if !config.Foreground {
		return daemonizeAndWait()
	}

	closer, err := logger.Init(config.Logging.Format, string(config.Logging.Severity), string(config.Logging.FilePath))
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	// This process may itself be a daemonized child; signal the mount
	// outcome back to the parent daemonize.Run is blocked in, the same way
	// legacy_main.go's markSuccessfulMount/markMountFailure do.
	onMounted := func(mountErr error) {
		if err := daemonize.SignalOutcome(mountErr); err != nil {
			logger.Errorf("Failed to signal mount outcome to parent process: %v", err)
		}
	}

	return mountrunner.Run(config, onMounted)
}
