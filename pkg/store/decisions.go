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

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DecisionRow is the Store's at-rest shape for a decision record;
// pkg/decision computes record_hash before persisting; final_verdict is
// stored as pkg/decision's caller supplied it.
type DecisionRow struct {
	DecisionID      string
	DecisionType    string
	Seed            string
	Inputs          map[string]any
	Outputs         map[string]any
	RulesTriggered  []string
	FinalVerdict    string
	Confidence      float64
	TS              time.Time
	Status          string
	RecordHash      string
}

// InsertDecision appends an immutable decision record. There is no Update
// for this DAO; a sign-off is a separate row in decision_signoffs.
func (s *Store) InsertDecision(ctx context.Context, row DecisionRow) error {
	inputs, err := json.Marshal(row.Inputs)
	if err != nil {
		return fmt.Errorf("store: marshal decision inputs: %w", err)
	}
	outputs, err := json.Marshal(row.Outputs)
	if err != nil {
		return fmt.Errorf("store: marshal decision outputs: %w", err)
	}
	rules, err := json.Marshal(row.RulesTriggered)
	if err != nil {
		return fmt.Errorf("store: marshal decision rules_triggered: %w", err)
	}
	status := row.Status
	if status == "" {
		status = "RECORDED"
	}
	_, err = s.write.ExecContext(ctx, `
INSERT INTO decision_records (decision_id, decision_type, seed, inputs_json, outputs_json, rules_triggered_json, final_verdict, confidence, ts, status, record_hash)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, row.DecisionID, row.DecisionType, row.Seed, string(inputs), string(outputs), string(rules), row.FinalVerdict, row.Confidence, row.TS, status, row.RecordHash)
	if err != nil {
		return fmt.Errorf("store: insert decision %s: %w", row.DecisionID, err)
	}
	return nil
}

// GetDecision reads a decision record, or nil if it does not exist.
func (s *Store) GetDecision(ctx context.Context, decisionID string) (*DecisionRow, error) {
	row := s.read.QueryRowContext(ctx, `
SELECT decision_id, decision_type, seed, inputs_json, outputs_json, rules_triggered_json, final_verdict, confidence, ts, status, record_hash
FROM decision_records WHERE decision_id = ?
`, decisionID)
	r, err := scanDecisionRow(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get decision %s: %w", decisionID, err)
	}
	return r, nil
}

func scanDecisionRow(s rowScanner) (*DecisionRow, error) {
	var r DecisionRow
	var inputs, outputs, rules string
	if err := s.Scan(&r.DecisionID, &r.DecisionType, &r.Seed, &inputs, &outputs, &rules, &r.FinalVerdict, &r.Confidence, &r.TS, &r.Status, &r.RecordHash); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(inputs), &r.Inputs); err != nil {
		return nil, fmt.Errorf("store: unmarshal decision inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(outputs), &r.Outputs); err != nil {
		return nil, fmt.Errorf("store: unmarshal decision outputs: %w", err)
	}
	if err := json.Unmarshal([]byte(rules), &r.RulesTriggered); err != nil {
		return nil, fmt.Errorf("store: unmarshal decision rules_triggered: %w", err)
	}
	return &r, nil
}

// InsertSignoff records a sign-off and flips the decision's status to
// SIGNED. Both happen in one transaction so a crash between them can never
// leave a sign-off row pointing at an un-flipped decision.
func (s *Store) InsertSignoff(ctx context.Context, decisionID, signedBy, note string) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin signoff tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO decision_signoffs (decision_id, signed_by, signed_at, note) VALUES (?, ?, ?, ?)
`, decisionID, signedBy, time.Now().UTC(), note)
	if err != nil {
		return fmt.Errorf("store: insert signoff for %s: %w", decisionID, err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE decision_records SET status = 'SIGNED' WHERE decision_id = ?`, decisionID)
	if err != nil {
		return fmt.Errorf("store: flip decision %s to signed: %w", decisionID, err)
	}
	return tx.Commit()
}
