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

package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv pre-seeds process environment variables from .env.local and
// .env (in that priority order) before a config file referencing
// ${VAR}-style secrets (tool adapter API keys, JWKS issuer/audience) is
// parsed. A missing file is not an error; any other read failure is.
func LoadDotEnv() error {
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", name, err)
		}
	}
	return nil
}
