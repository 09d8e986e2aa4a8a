// Package fraud scores payout attempts against weighted behaviour
// signals. Scores are advisory: the risk service decides whether a
// given score flags the payout for review or rejects it outright.
package fraud

import (
	"math"
	"sort"

	"github.com/svarade/payoutcore/internal/risk/domain"
)

type signalSpec struct {
	name   string
	weight float64
}

// Payout-fraud signals. Indicator values are expected in [0,1]; values
// outside that range are clamped.
var fraudSignals = []signalSpec{
	{name: "velocity_anomaly", weight: 0.25},
	{name: "amount_anomaly", weight: 0.20},
	{name: "destination_change", weight: 0.20},
	{name: "geo_mismatch", weight: 0.15},
	{name: "device_anomaly", weight: 0.10},
	{name: "account_age", weight: 0.10},
}

// Account-takeover signals weigh recent credential and destination
// changes much more heavily than payout shape.
var takeoverSignals = []signalSpec{
	{name: "credential_change", weight: 0.30},
	{name: "destination_change", weight: 0.25},
	{name: "device_anomaly", weight: 0.20},
	{name: "geo_mismatch", weight: 0.15},
	{name: "session_anomaly", weight: 0.10},
}

// Scorer computes weighted risk assessments from caller-supplied
// indicator maps.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// ScoreFraud evaluates payout-fraud signals. Confidence reflects how
// many of the expected indicators were actually observed: a score built
// from one indicator out of six is weak evidence either way.
func (s *Scorer) ScoreFraud(indicators map[string]float64) domain.Assessment {
	return score(fraudSignals, indicators)
}

// ScoreTakeover evaluates account-takeover signals.
func (s *Scorer) ScoreTakeover(indicators map[string]float64) domain.Assessment {
	return score(takeoverSignals, indicators)
}

// Named pattern profiles. Each narrows scoring to the signals that
// characterise the pattern and reweights them so the evidence that defines
// the pattern dominates the score.
var patternSignals = map[string][]signalSpec{
	"velocity_abuse": {
		{name: "velocity_anomaly", weight: 0.50},
		{name: "amount_anomaly", weight: 0.30},
		{name: "account_age", weight: 0.20},
	},
	"destination_fraud": {
		{name: "destination_change", weight: 0.45},
		{name: "geo_mismatch", weight: 0.30},
		{name: "device_anomaly", weight: 0.25},
	},
	"account_takeover": takeoverSignals,
}

// ScorePattern evaluates indicators against a named pattern profile. An
// unknown pattern falls back to the general payout-fraud signal set.
func (s *Scorer) ScorePattern(pattern string, indicators map[string]float64) domain.Assessment {
	specs, ok := patternSignals[pattern]
	if !ok {
		specs = fraudSignals
	}
	return score(specs, indicators)
}

func score(specs []signalSpec, indicators map[string]float64) domain.Assessment {
	var (
		total    float64
		observed float64
		weight   float64
		evidence []domain.Signal
	)
	for _, spec := range specs {
		weight += spec.weight
		value, ok := indicators[spec.name]
		if !ok {
			continue
		}
		value = clamp01(value)
		observed += spec.weight
		total += spec.weight * value
		evidence = append(evidence, domain.Signal{
			Name:   spec.name,
			Weight: spec.weight,
			Value:  value,
		})
	}

	sort.Slice(evidence, func(i, j int) bool {
		return evidence[i].Weight*evidence[i].Value > evidence[j].Weight*evidence[j].Value
	})

	assessment := domain.Assessment{Evidence: evidence}
	if observed > 0 {
		assessment.Score = total / observed
	}
	if weight > 0 {
		assessment.Confidence = observed / weight
	}
	return assessment
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
