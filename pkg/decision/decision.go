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

// Package decision implements the content-addressed decision ledger:
// every governance call records its inputs, outputs, triggered rules, and
// final verdict as an immutable, hash-verifiable row, grounded on
// pkg/task.Task's terminal-status-flip pattern generalized to a
// RECORDED -> SIGNED status flip for sign-offs.
package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianstack/orchestrator/pkg/orcherr"
	"github.com/meridianstack/orchestrator/pkg/store"
)

// Verdict is the outcome of a governance decision. Values are ordered from
// least to most restrictive; Merge picks the most restrictive of a set.
type Verdict string

const (
	VerdictAllow         Verdict = "ALLOW"
	VerdictAllowWithAudit Verdict = "ALLOW_WITH_AUDIT"
	VerdictPause         Verdict = "PAUSE"
	VerdictRequireReview Verdict = "REQUIRE_REVIEW"
	VerdictRetry         Verdict = "RETRY"
	VerdictBlock         Verdict = "BLOCK"
)

var verdictRank = map[Verdict]int{
	VerdictAllow:          0,
	VerdictAllowWithAudit: 1,
	VerdictRetry:          2,
	VerdictPause:          3,
	VerdictRequireReview:  4,
	VerdictBlock:          5,
}

// Merge returns the most restrictive of a and b.
func Merge(a, b Verdict) Verdict {
	if verdictRank[b] > verdictRank[a] {
		return b
	}
	return a
}

// Record is the in-memory shape of one decision, before and after
// persistence. Seed is the deterministic input that produced it (e.g. a
// task ID plus policy name), used to make RecordHash reproducible for a
// given set of inputs.
type Record struct {
	DecisionID     string
	DecisionType   string
	Seed           string
	Inputs         map[string]any
	Outputs        map[string]any
	RulesTriggered []string
	FinalVerdict   Verdict
	Confidence     float64
	TS             time.Time
	Status         string
	RecordHash     string
}

const (
	StatusRecorded = "RECORDED"
	StatusSigned   = "SIGNED"
)

// hashFields is the fixed field set record_hash is computed over:
// decision_id, decision_type, seed, inputs, outputs, rules_triggered, and
// timestamp. Adding a field here changes every future hash; it must never
// be computed over a field outside this set, or VerifyIntegrity could pass
// on tampered data outside it — in particular decision_id and timestamp
// must stay in the set, since either one is a plausible forgery target
// (replaying a decision under a different ID, or backdating it).
type hashFields struct {
	DecisionID     string         `json:"decision_id"`
	DecisionType   string         `json:"decision_type"`
	Seed           string         `json:"seed"`
	Inputs         map[string]any `json:"inputs"`
	Outputs        map[string]any `json:"outputs"`
	RulesTriggered []string       `json:"rules_triggered"`
	TS             time.Time      `json:"timestamp"`
}

func computeHash(r *Record) (string, error) {
	// encoding/json sorts map keys by default, giving a canonical
	// serialization without a third-party canonicalization library.
	data, err := json.Marshal(hashFields{
		DecisionID:     r.DecisionID,
		DecisionType:   r.DecisionType,
		Seed:           r.Seed,
		Inputs:         r.Inputs,
		Outputs:        r.Outputs,
		RulesTriggered: r.RulesTriggered,
		TS:             r.TS,
	})
	if err != nil {
		return "", fmt.Errorf("decision: marshal hash fields: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Recorder persists decisions to the Store's content-addressed ledger.
type Recorder struct {
	store *store.Store
}

// NewRecorder constructs a Recorder over s.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{store: s}
}

// Record stores inputs, outputs, rules_triggered and the final verdict as
// the caller supplies them; it does not derive triggered rules or merge
// verdicts itself. It computes record_hash over hashFields (the final
// verdict and confidence are not hashed) and appends the immutable row.
func (rec *Recorder) Record(ctx context.Context, decisionType, seed string, inputs, outputs map[string]any, rulesTriggered []string, verdict Verdict, confidence float64) (*Record, error) {
	r := &Record{
		DecisionID:     uuid.NewString(),
		DecisionType:   decisionType,
		Seed:           seed,
		Inputs:         inputs,
		Outputs:        outputs,
		RulesTriggered: rulesTriggered,
		FinalVerdict:   verdict,
		Confidence:     confidence,
		TS:             time.Now().UTC(),
		Status:         StatusRecorded,
	}
	hash, err := computeHash(r)
	if err != nil {
		return nil, err
	}
	r.RecordHash = hash

	if err := rec.store.InsertDecision(ctx, store.DecisionRow{
		DecisionID:     r.DecisionID,
		DecisionType:   r.DecisionType,
		Seed:           r.Seed,
		Inputs:         r.Inputs,
		Outputs:        r.Outputs,
		RulesTriggered: r.RulesTriggered,
		FinalVerdict:   string(r.FinalVerdict),
		Confidence:     r.Confidence,
		TS:             r.TS,
		Status:         r.Status,
		RecordHash:     r.RecordHash,
	}); err != nil {
		return nil, fmt.Errorf("decision: record %s: %w", r.DecisionID, err)
	}
	return r, nil
}

// SignOff attaches a signed sign-off to decisionID and flips its status to
// SIGNED, the only mutation this ledger ever performs.
func (rec *Recorder) SignOff(ctx context.Context, decisionID, signedBy, note string) error {
	if err := rec.store.InsertSignoff(ctx, decisionID, signedBy, note); err != nil {
		return fmt.Errorf("decision: sign off %s: %w", decisionID, err)
	}
	return nil
}

// VerifyIntegrity recomputes decisionID's hash from its stored fields and
// compares it against the stored record_hash, detecting tampering.
func (rec *Recorder) VerifyIntegrity(ctx context.Context, decisionID string) error {
	row, err := rec.store.GetDecision(ctx, decisionID)
	if err != nil {
		return fmt.Errorf("decision: load %s: %w", decisionID, err)
	}
	if row == nil {
		return orcherr.New("decision.VerifyIntegrity", orcherr.KindConfig, "no such decision: "+decisionID, nil)
	}
	r := &Record{
		DecisionID:     row.DecisionID,
		DecisionType:   row.DecisionType,
		Seed:           row.Seed,
		Inputs:         row.Inputs,
		Outputs:        row.Outputs,
		RulesTriggered: row.RulesTriggered,
		TS:             row.TS,
	}
	recomputed, err := computeHash(r)
	if err != nil {
		return err
	}
	if recomputed != row.RecordHash {
		return orcherr.ErrTamperDetected
	}
	return nil
}
