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

// Package orcherr defines the Orchestrator's error kinds.
//
// Every subsystem constructs errors through this package rather than ad
// hoc fmt.Errorf, so a caller can recover the kind via errors.As/errors.Is
// regardless of how deeply the error has been wrapped.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error kinds from the error handling design.
type Kind string

const (
	KindConfig           Kind = "config"
	KindAuth             Kind = "auth"
	KindNetwork          Kind = "network"
	KindTimeout          Kind = "timeout"
	KindProtocol         Kind = "protocol"
	KindRedlineViolation Kind = "redline_violation"
	KindPauseGate        Kind = "pause_gate_violation"
	KindIntegrity        Kind = "integrity"
	KindFatal            Kind = "fatal"
)

// Error is the concrete error type carried by every Kind.
//
// Op names the operation that failed (e.g. "store.InsertInbox"), Kind
// classifies the failure, Message is a human-readable detail, and Err is
// the wrapped underlying cause, if any.
type Error struct {
	Op      string
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an *Error of the given kind.
func New(op string, kind Kind, message string, cause error) *Error {
	return &Error{Op: op, Kind: kind, Message: message, Err: cause}
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrDuplicateEvent is the benign-dedupe case of IntegrityError: a
// UNIQUE(event_id) constraint violation on the inbox. Callers treat this
// as "already seen", never as a fault.
var ErrDuplicateEvent = &Error{Op: "store.InsertInbox", Kind: KindIntegrity, Message: "duplicate event_id"}

// IsDuplicateEvent reports whether err is the benign inbox-dedupe case.
func IsDuplicateEvent(err error) bool {
	return errors.Is(err, ErrDuplicateEvent)
}

// ErrTamperDetected is the non-benign IntegrityError case: a decision
// record's stored hash no longer matches its recomputed hash.
var ErrTamperDetected = &Error{Op: "decision.VerifyIntegrity", Kind: KindIntegrity, Message: "record_hash mismatch"}

// ErrIllegalPauseCheckpoint is the sentinel behind every PauseGateViolation.
var ErrIllegalPauseCheckpoint = &Error{Op: "gate.PauseGate", Kind: KindPauseGate, Message: "illegal pause checkpoint"}

// ErrRedlineRejected is the sentinel behind every RedlineViolation.
var ErrRedlineRejected = &Error{Op: "gate.Redline", Kind: KindRedlineViolation, Message: "spec rejected by redline validator"}
