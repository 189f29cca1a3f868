package oracle

import "math"

// Scorer converts an aggregated measurement into credit units.
type Scorer interface {
	Score(measure float64) int64
}

// LinearScorer credits UnitsPerMeasure per unit measured, rounded down and
// capped at Cap when Cap is positive.
type LinearScorer struct {
	UnitsPerMeasure float64
	Cap             int64
}

// Score implements Scorer.
func (s LinearScorer) Score(measure float64) int64 {
	units := math.Floor(measure * s.UnitsPerMeasure)
	if units <= 0 || math.IsNaN(units) {
		return 0
	}
	if s.Cap > 0 && units > float64(s.Cap) {
		return s.Cap
	}
	if units > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(units)
}
