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

// Package risk scores a task or step along a fixed set of weighted
// dimensions and classifies the result into a Level, grounded on
// original_source/agentos/core/capabilities/risk's dimension-calculator +
// weighted-score model, generalized from per-extension execution history
// to per-task/step facts.
package risk

import "context"

// Dimensions is one observation's raw facts, already normalized to 0-1 by
// the caller. Values outside [0,1] are clamped by Scorer.
type Dimensions struct {
	ErrorRate      float64
	ResourceUsage  float64
	SecurityScore  float64
	WriteRatio     float64
	ExternalCall   float64
	Extra          map[string]float64
}

// Finding is one dimension's contribution to an Assessment, carried
// through so a policy can explain why a task paused or blocked.
type Finding struct {
	Dimension string
	Value     float64
	Weight    float64
	Impact    Level
	Detail    string
}

// Level is a risk classification. Values are ordered least to most severe.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

var levelRank = map[Level]int{LevelLow: 0, LevelMedium: 1, LevelHigh: 2, LevelCritical: 3}

// MoreSevere reports whether a is strictly more severe than b.
func MoreSevere(a, b Level) bool { return levelRank[a] > levelRank[b] }

// Assessment is a Scorer's output: a single composite score in [0,100],
// its Level, and the per-dimension Findings that produced it.
type Assessment struct {
	Score    float64
	Level    Level
	Findings []Finding
}

// weight mirrors models.py's DimensionResult.weight assignments, keeping
// write/external-call access as the two highest-weighted signals since
// they carry the largest blast radius.
var weight = map[string]float64{
	"error_rate":     0.20,
	"resource_usage": 0.15,
	"security_score": 0.25,
	"write_ratio":    0.25,
	"external_call":  0.15,
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func impactOf(v float64) Level {
	switch {
	case v >= 0.7:
		return LevelHigh
	case v >= 0.3:
		return LevelMedium
	default:
		return LevelLow
	}
}

func levelOf(score float64) Level {
	switch {
	case score >= 90:
		return LevelCritical
	case score >= 70:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Scorer combines Dimensions into an Assessment and, when a TimelineSink
// is attached, posts the result for later retrieval. Scorer depends only
// on the TimelineSink interface, never on a concrete Timeline, so the
// scorer<->timeline relationship never needs an import cycle.
type Scorer struct {
	sink TimelineSink
}

// NewScorer constructs a Scorer. sink may be nil, in which case
// assessments are computed but never recorded.
func NewScorer(sink TimelineSink) *Scorer {
	return &Scorer{sink: sink}
}

// Score computes a weighted Assessment from d and, if a sink is attached,
// appends it to the timeline under subjectID.
func (s *Scorer) Score(ctx context.Context, subjectID string, d Dimensions) (Assessment, error) {
	dims := map[string]float64{
		"error_rate":     clamp01(d.ErrorRate),
		"resource_usage": clamp01(d.ResourceUsage),
		"security_score": clamp01(d.SecurityScore),
		"write_ratio":    clamp01(d.WriteRatio),
		"external_call":  clamp01(d.ExternalCall),
	}
	for k, v := range d.Extra {
		dims[k] = clamp01(v)
		if _, ok := weight[k]; !ok {
			weight[k] = 0
		}
	}

	var score float64
	findings := make([]Finding, 0, len(dims))
	for name, value := range dims {
		w := weight[name]
		score += value * w * 100
		findings = append(findings, Finding{Dimension: name, Value: value, Weight: w, Impact: impactOf(value)})
	}

	a := Assessment{Score: score, Level: levelOf(score), Findings: findings}
	if s.sink != nil {
		if err := s.sink.Append(ctx, subjectID, a); err != nil {
			return a, err
		}
	}
	return a, nil
}

// TimelineSink is the write side of an append-only risk history, kept as
// an interface so Scorer never imports pkg/risk's own Timeline
// implementation (or pkg/store) directly.
type TimelineSink interface {
	Append(ctx context.Context, subjectID string, a Assessment) error
}
