// Package confidence turns weighted factor scores into an overall confidence
// score and a routing recommendation. It is pure: no I/O, no clock.
package confidence

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	dErrors "gatekeeper/pkg/domain-errors"
)

// Recommendation is the routing bucket for a score.
type Recommendation string

const (
	RecommendAuto        Recommendation = "auto"
	RecommendQuickReview Recommendation = "quick_review"
	RecommendFullReview  Recommendation = "full_review"
)

func (r Recommendation) String() string { return string(r) }

// IsValid reports whether r is a known bucket.
func (r Recommendation) IsValid() bool {
	switch r {
	case RecommendAuto, RecommendQuickReview, RecommendFullReview:
		return true
	}
	return false
}

const (
	DefaultAutoApproveThreshold = 85
	DefaultQuickReviewThreshold = 60

	minScore = 0
	maxScore = 100
)

var half = decimal.New(5, -1)

// Thresholds are the lower edges of the auto and quick_review buckets.
type Thresholds struct {
	AutoApprove int
	QuickReview int
}

// DefaultThresholds returns auto >= 85, quick_review >= 60.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoApprove: DefaultAutoApproveThreshold, QuickReview: DefaultQuickReviewThreshold}
}

// Validate requires 0 < quick < auto <= 100.
func (t Thresholds) Validate() error {
	if t.QuickReview <= minScore || t.AutoApprove > maxScore || t.QuickReview >= t.AutoApprove {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("invalid thresholds: quick_review=%d auto=%d (need 0 < quick_review < auto <= 100)", t.QuickReview, t.AutoApprove))
	}
	return nil
}

// Bucket maps an integer score onto a recommendation. A score equal to a
// threshold belongs to the bucket that threshold opens.
func (t Thresholds) Bucket(score int) Recommendation {
	switch {
	case score >= t.AutoApprove:
		return RecommendAuto
	case score >= t.QuickReview:
		return RecommendQuickReview
	default:
		return RecommendFullReview
	}
}

// Factor is one weighted input to the score.
type Factor struct {
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Explanation string  `json:"explanation,omitempty"`
}

// Result is the calculator output.
type Result struct {
	Score          int            `json:"score"`
	Recommendation Recommendation `json:"recommendation"`
	Factors        []Factor       `json:"factors"`
}

// Score computes the weight-normalized average with exact decimal arithmetic,
// rounds to the nearest integer and buckets the result. An average exactly
// halfway between two integers rounds down, toward the stricter bucket.
func Score(factors []Factor, thresholds Thresholds) (Result, error) {
	if err := thresholds.Validate(); err != nil {
		return Result{}, err
	}
	if err := validateFactors(factors); err != nil {
		return Result{}, err
	}

	weighted := decimal.Zero
	totalWeight := decimal.Zero
	for _, f := range factors {
		w := decimal.NewFromFloat(f.Weight)
		weighted = weighted.Add(decimal.NewFromFloat(f.Score).Mul(w))
		totalWeight = totalWeight.Add(w)
	}

	avg := weighted.DivRound(totalWeight, 16)
	score := int(avg.Sub(half).Ceil().IntPart())
	score = max(minScore, min(maxScore, score))

	out := make([]Factor, len(factors))
	copy(out, factors)
	return Result{
		Score:          score,
		Recommendation: thresholds.Bucket(score),
		Factors:        out,
	}, nil
}

func validateFactors(factors []Factor) error {
	if len(factors) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one factor is required")
	}
	for i, f := range factors {
		if strings.TrimSpace(f.Name) == "" {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("factor %d: name is required", i))
		}
		if f.Weight <= 0 {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("factor %q: weight must be > 0", f.Name))
		}
		if f.Score < minScore || f.Score > maxScore {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("factor %q: score must be within 0-100", f.Name))
		}
	}
	return nil
}
