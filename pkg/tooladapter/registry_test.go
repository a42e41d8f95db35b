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

import (
	"context"
	"testing"
)

// fakeAdapter records the allowMock value it was called with and returns a
// canned result, so tests can assert on what the Registry did around it.
type fakeAdapter struct {
	name         string
	result       ToolResult
	lastAllowMock bool
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) HealthCheck(ctx context.Context) (HealthReport, error) {
	return HealthReport{Status: HealthConnected}, nil
}

func (f *fakeAdapter) Run(ctx context.Context, task Task, allowMock bool) (ToolResult, error) {
	f.lastAllowMock = allowMock
	return f.result, nil
}

func (f *fakeAdapter) Supports() ToolCapabilities {
	return ToolCapabilities{OutputKinds: []OutputKind{OutputDiff}, Provider: ProviderLocal, MockCapable: true}
}

func TestRegistryRunNormalizesEndpointAndAttachesDiffValidation(t *testing.T) {
	a := &fakeAdapter{name: "cli", result: ToolResult{
		Status:     StatusSuccess,
		Diff:       sampleDiff,
		OutputKind: OutputDiff,
		Endpoint:   "https://example.com/v1/tools?debug=1",
		Provider:   ProviderLocal,
	}}
	reg := NewRegistry(nil, nil)
	reg.Register(a)

	got, err := reg.Run(context.Background(), "cli", Task{ID: "t1", AllowedPaths: []string{"pkg"}}, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Endpoint != "https://example.com" {
		t.Fatalf("expected normalized endpoint, got %q", got.Endpoint)
	}
	if got.DiffValidation == nil || !got.DiffValidation.ParsesAsUnifiedDiff {
		t.Fatalf("expected diff validation to be attached, got %+v", got.DiffValidation)
	}
	if got.WroteFiles || got.Committed {
		t.Fatal("expected wrote_files and committed to always be false")
	}
	if got.LineCount == 0 {
		t.Fatal("expected a non-zero line count for a diff output")
	}
}

func TestRegistryRunGatesMockByBothAllowMockAndProcessWideSwitch(t *testing.T) {
	a := &fakeAdapter{name: "cli", result: ToolResult{Status: StatusSuccess, Provider: ProviderLocal}}
	reg := NewRegistry(nil, nil)
	reg.Register(a)

	SetGateMode(false)
	t.Cleanup(func() { SetGateMode(false) })

	if _, err := reg.Run(context.Background(), "cli", Task{ID: "t1"}, true); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.lastAllowMock {
		t.Fatal("expected allowMock to be suppressed when the process-wide gate mode is off")
	}

	SetGateMode(true)
	if _, err := reg.Run(context.Background(), "cli", Task{ID: "t1"}, true); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !a.lastAllowMock {
		t.Fatal("expected allowMock to pass through once both allowMock and gate mode are true")
	}

	if _, err := reg.Run(context.Background(), "cli", Task{ID: "t1"}, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.lastAllowMock {
		t.Fatal("expected allowMock false from the caller to stay false even with gate mode on")
	}
}

func TestRegistryRunReturnsConfigErrorForUnknownAdapter(t *testing.T) {
	reg := NewRegistry(nil, nil)
	if _, err := reg.Run(context.Background(), "missing", Task{ID: "t1"}, false); err == nil {
		t.Fatal("expected an error for an unregistered adapter name")
	}
}
