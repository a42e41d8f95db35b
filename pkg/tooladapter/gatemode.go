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

package tooladapter

import "sync/atomic"

// gateMode is the process-wide mock-fallback switch. It is set exactly
// once, at startup, from the config's gate_mode or ORCHESTRATOR_GATE_MODE
// by the caller (cmd/orchestratord),
// and is read by the Registry on every Run — never read ad hoc from
// os.Getenv inside adapter code, per spec.md's "wire both, not just the
// env var" design note.
var gateMode atomic.Bool

// SetGateMode sets the process-wide mock-fallback switch. Call once at
// startup.
func SetGateMode(enabled bool) {
	gateMode.Store(enabled)
}

// GateModeEnabled reports the current process-wide mock-fallback switch.
func GateModeEnabled() bool {
	return gateMode.Load()
}
