// Package scoring turns a run's severity summary into an overall risk score
// and rating.
package scoring

import (
	"fmt"
	"math"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
)

// MaxScore is the ceiling of the risk scale.
const MaxScore = 10.0

// Rating is the qualitative band of a score.
type Rating string

const (
	RatingMinimal  Rating = "Minimal"
	RatingLow      Rating = "Low"
	RatingMedium   Rating = "Medium"
	RatingHigh     Rating = "High"
	RatingCritical Rating = "Critical"
)

// band lower bounds, checked from the top.
var bands = []struct {
	floor  float64
	rating Rating
}{
	{8, RatingCritical},
	{6, RatingHigh},
	{4, RatingMedium},
	{2, RatingLow},
	{0, RatingMinimal},
}

// RatingFor maps a score in [0,10] to its band.
func RatingFor(score float64) Rating {
	for _, b := range bands {
		if score >= b.floor {
			return b.rating
		}
	}
	return RatingMinimal
}

// Assessment is the scored outcome for a set of findings.
type Assessment struct {
	OverallScore float64 `json:"overall_risk_score"`
	Rating       Rating  `json:"risk_rating"`
}

// DefaultWeights are used when no configuration is supplied.
var DefaultWeights = config.SeverityWeights{
	Critical: 7.0,
	High:     4.0,
	Medium:   1.5,
	Low:      0.5,
	Info:     0.1,
}

// Scorer computes risk scores. It is stateless and safe for concurrent use.
type Scorer struct {
	weights config.SeverityWeights
}

// New returns a scorer for the given weights.
func New(weights config.SeverityWeights) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid severity weights: %w", err)
	}
	return &Scorer{weights: weights}, nil
}

// NewDefault returns a scorer using DefaultWeights.
func NewDefault() *Scorer {
	return &Scorer{weights: DefaultWeights}
}

// Score sums the weighted severity counts and takes the larger of that and
// the highest CVSS base score, clamped to [0,10] and rounded to two places.
// An empty summary scores 0.
func (s *Scorer) Score(summary schemas.SeveritySummary, cvss ...float64) Assessment {
	weighted := float64(summary.Critical)*s.weights.Critical +
		float64(summary.High)*s.weights.High +
		float64(summary.Medium)*s.weights.Medium +
		float64(summary.Low)*s.weights.Low +
		float64(summary.Info)*s.weights.Info

	score := weighted
	for _, v := range cvss {
		if !math.IsNaN(v) && v > score {
			score = v
		}
	}
	score = clamp(score)
	score = math.Round(score*100) / 100

	return Assessment{OverallScore: score, Rating: RatingFor(score)}
}

// ScoreFindings is a convenience wrapper over Score.
func (s *Scorer) ScoreFindings(findings []schemas.Finding) Assessment {
	var cvss []float64
	for _, f := range findings {
		if f.CVSS != nil {
			cvss = append(cvss, *f.CVSS)
		}
	}
	return s.Score(schemas.Summarize(findings), cvss...)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > MaxScore:
		return MaxScore
	}
	return v
}
