package signs

// Band is the display classification of a recognition confidence
type Band string

const (
	BandHigh     Band = "high"
	BandMedium   Band = "medium"
	BandLow      Band = "low"
	BandCritical Band = "critical"
)

// Classify maps a confidence percentage to its band. Lower bounds are inclusive.
func Classify(confidence float64) Band {
	switch {
	case confidence >= 90:
		return BandHigh
	case confidence >= 60:
		return BandMedium
	case confidence >= 50:
		return BandLow
	default:
		return BandCritical
	}
}
