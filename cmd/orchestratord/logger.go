// Copyright 2025 Meridianstack Authors
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

package main

import (
	"fmt"
	"os"

	"github.com/meridianstack/orchestrator/pkg/logger"
)

// initLogger initializes the ambient logger from CLI flags, falling back
// to environment variables so deployments can configure logging without
// touching the process's command line.
func initLogger(cliLevel, cliFile, cliFormat string) (func(), error) {
	level := cliLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}
	file := cliFile
	if file == "" {
		file = os.Getenv("LOG_FILE")
	}
	format := cliFormat
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	if format == "" {
		format = "simple"
	}

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := os.Stderr
	var cleanup func()
	if file != "" {
		f, cleanupFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output = f
		cleanup = cleanupFn
	}

	logger.Init(parsed, output, format)
	return cleanup, nil
}
