package model

// Confidence expresses trust in an extracted value.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// rank orders confidence tiers: low < medium < high.
// Unknown values rank below low so malformed input never inflates trust.
func (c Confidence) rank() int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	default:
		return 0
	}
}

// Valid reports whether c is one of the three known tiers.
func (c Confidence) Valid() bool {
	return c.rank() > 0
}

// Less reports whether c ranks strictly below other.
func (c Confidence) Less(other Confidence) bool {
	return c.rank() < other.rank()
}

// MinConfidence returns the lower of two tiers.
func MinConfidence(a, b Confidence) Confidence {
	if a.Less(b) {
		return a
	}
	return b
}

// MaxConfidence returns the higher of two tiers.
func MaxConfidence(a, b Confidence) Confidence {
	if a.Less(b) {
		return b
	}
	return a
}

// Score maps a tier to the numeric score the ERP payload carries.
func (c Confidence) Score() float64 {
	switch c {
	case ConfidenceHigh:
		return 0.95
	case ConfidenceMedium:
		return 0.75
	default:
		return 0.50
	}
}
