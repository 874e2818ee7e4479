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

// GetDefaultLoggingConfig returns the default configuration that is to be
// used during application startup, before the provided configuration has
// been parsed.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: InfoLogSeverity,
		Format:   "text",
		LogRotate: LogRotateLoggingConfig{
			BackupFileCount: 10,
			Compress:        true,
			MaxFileSizeMb:   512,
		},
	}
}

// GetDefaultShadowConfig returns the default set of invariant tables the
// shadow model maintains when a mount isn't given explicit --check-* flags.
func GetDefaultShadowConfig() ShadowConfig {
	return ShadowConfig{
		CheckMetadata: true,
		CheckDirs:     true,
		CheckData:     false,
		CheckXattrs:   true,
	}
}

// GetDefaultDebugConfig returns the default developer-facing behavior: abort
// on any invariant violation and persist the shadow model across mounts.
func GetDefaultDebugConfig() DebugConfig {
	return DebugConfig{
		ExitOnInvariantViolation: true,
		LogMutex:                 false,
		Persist:                  true,
	}
}
