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

package risk

import (
	"context"
	"fmt"

	"github.com/meridianstack/orchestrator/pkg/store"
)

// EventAssessment is the audit event_type every Timeline entry is
// recorded under, so ListAudit callers can filter risk history from the
// rest of a task's audit stream.
const EventAssessment = "risk.assessment"

// Timeline is the append-only risk history, backed by the Store's
// existing audit stream rather than a dedicated table: a risk assessment
// is, at rest, just another audit fact about a task.
type Timeline struct {
	store *store.Store
}

// NewTimeline constructs a Timeline over s.
func NewTimeline(s *store.Store) *Timeline {
	return &Timeline{store: s}
}

// Append satisfies TimelineSink by recording a as an audit entry against
// subjectID (a task ID).
func (t *Timeline) Append(ctx context.Context, subjectID string, a Assessment) error {
	dims := make(map[string]any, len(a.Findings))
	for _, f := range a.Findings {
		dims[f.Dimension] = f.Value
	}
	level := AuditLevelFor(a.Level)
	if err := t.store.AppendAudit(ctx, store.AuditEntry{
		TaskID:    subjectID,
		Level:     level,
		EventType: EventAssessment,
		Payload: map[string]any{
			"score":      a.Score,
			"risk_level": string(a.Level),
			"dimensions": dims,
		},
	}); err != nil {
		return fmt.Errorf("risk: append timeline entry for %s: %w", subjectID, err)
	}
	return nil
}

// AuditLevelFor maps a risk Level onto the audit stream's coarser
// info/warn/error severity.
func AuditLevelFor(l Level) store.AuditLevel {
	switch l {
	case LevelHigh, LevelCritical:
		return store.AuditError
	case LevelMedium:
		return store.AuditWarn
	default:
		return store.AuditInfo
	}
}

// Latest returns the most recent assessment recorded for subjectID, or
// the zero Assessment with ok=false if none exists.
func (t *Timeline) Latest(ctx context.Context, subjectID string) (Assessment, bool, error) {
	var latest Assessment
	found := false
	for entry, err := range t.store.ListAudit(ctx, subjectID) {
		if err != nil {
			return Assessment{}, false, fmt.Errorf("risk: read timeline for %s: %w", subjectID, err)
		}
		if entry.EventType != EventAssessment {
			continue
		}
		score, _ := entry.Payload["score"].(float64)
		levelStr, _ := entry.Payload["risk_level"].(string)
		latest = Assessment{Score: score, Level: Level(levelStr)}
		found = true
	}
	return latest, found, nil
}
