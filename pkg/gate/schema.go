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

package gate

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// reflector matches cmd/hector's schema generation settings: no $ref
// indirection, so a rendered schema is self-contained.
var reflector = &jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
}

// SpecSchema renders the JSON Schema for one of RoleSpec, CommandSpec or
// RuleSpec, for audit readability: it documents the shape a redline
// validator accepts or rejects. Nothing in this module writes it to
// gate_results.json or elsewhere, and it is not used to perform
// validation (the redline
// checks are semantic, e.g. "may not bind a role", which plain JSON Schema
// cannot express).
func SpecSchema(spec any) ([]byte, error) {
	var s *jsonschema.Schema
	switch spec.(type) {
	case RoleSpec:
		s = reflector.Reflect(&RoleSpec{})
		s.Title = "Role"
	case CommandSpec:
		s = reflector.Reflect(&CommandSpec{})
		s.Title = "Command"
	case RuleSpec:
		s = reflector.Reflect(&RuleSpec{})
		s.Title = "Rule"
	default:
		return nil, fmt.Errorf("gate: unsupported spec type %T", spec)
	}
	return json.MarshalIndent(s, "", "  ")
}
