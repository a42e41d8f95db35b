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

// Package gate implements the Orchestrator's governance surfaces: the
// pre-registration red-line validators for declarative specs, the pause
// gate enforcing the one legal pause checkpoint, and the DONE gate runner
// that re-plans a task on verification failure.
package gate

import (
	"fmt"

	"github.com/meridianstack/orchestrator/pkg/orcherr"
)

// RoleSpec is a declarative role definition subject to red-line checks.
type RoleSpec struct {
	Name               string
	Category           string
	Title              string
	HasExecutableField bool
}

// CommandSpec is a declarative command definition subject to red-line
// checks.
type CommandSpec struct {
	Name        string
	SideEffects []string
	Risk        string
	BoundRole   string
}

// RuleSpec is a declarative rule definition subject to red-line checks.
type RuleSpec struct {
	Name             string
	When             map[string]any
	Then             map[string]any
	Scope            string
	RequiresEvidence bool
}

// RedlineValidator checks a declarative spec's structural and semantic
// invariants before it may be registered. A non-nil error is always an
// orcherr.Error of Kind orcherr.KindRedlineViolation.
type RedlineValidator interface {
	Validate(spec any) error
}

func violation(op, message string) error {
	return orcherr.New(op, orcherr.KindRedlineViolation, message, orcherr.ErrRedlineRejected)
}

// RoleValidator enforces: a role may not contain executable fields, must
// declare exactly one organisational category, and must reference a
// real-world title.
type RoleValidator struct{}

func (RoleValidator) Validate(spec any) error {
	r, ok := spec.(RoleSpec)
	if !ok {
		return violation("gate.RoleValidator", fmt.Sprintf("expected RoleSpec, got %T", spec))
	}
	if r.HasExecutableField {
		return violation("gate.RoleValidator", "role "+r.Name+" may not declare executable fields")
	}
	if r.Category == "" {
		return violation("gate.RoleValidator", "role "+r.Name+" must declare a single organisational category")
	}
	if r.Title == "" {
		return violation("gate.RoleValidator", "role "+r.Name+" must reference a real-world title")
	}
	return nil
}

// CommandValidator enforces: a command must declare side-effects and risk,
// and must not bind a role (binding belongs to policy, not the command
// declaration).
type CommandValidator struct{}

func (CommandValidator) Validate(spec any) error {
	c, ok := spec.(CommandSpec)
	if !ok {
		return violation("gate.CommandValidator", fmt.Sprintf("expected CommandSpec, got %T", spec))
	}
	if len(c.SideEffects) == 0 {
		return violation("gate.CommandValidator", "command "+c.Name+" must declare side-effects")
	}
	if c.Risk == "" {
		return violation("gate.CommandValidator", "command "+c.Name+" must declare a risk level")
	}
	if c.BoundRole != "" {
		return violation("gate.CommandValidator", "command "+c.Name+" must not bind a role")
	}
	return nil
}

// RuleValidator enforces: a rule must have a structured when/then, an
// explicit scope, and must require evidence.
type RuleValidator struct{}

func (RuleValidator) Validate(spec any) error {
	r, ok := spec.(RuleSpec)
	if !ok {
		return violation("gate.RuleValidator", fmt.Sprintf("expected RuleSpec, got %T", spec))
	}
	if len(r.When) == 0 {
		return violation("gate.RuleValidator", "rule "+r.Name+" must have a structured when clause")
	}
	if len(r.Then) == 0 {
		return violation("gate.RuleValidator", "rule "+r.Name+" must have a structured then clause")
	}
	if r.Scope == "" {
		return violation("gate.RuleValidator", "rule "+r.Name+" must declare an explicit scope")
	}
	if !r.RequiresEvidence {
		return violation("gate.RuleValidator", "rule "+r.Name+" must require evidence")
	}
	return nil
}
