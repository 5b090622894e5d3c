package telemetry

import "github.com/silviot/vehiclelink/pkg/signs"

// TypeSignals is the envelope type carrying recognized signs
const TypeSignals = "signals"

// Detection is a single recognition reported by the vehicle
type Detection struct {
	ID         string  `json:"id"`
	Confidence float64 `json:"confidence"`
}

// Envelope is the inbound signals message
type Envelope struct {
	Type       string      `json:"type"` // "signals"
	Vertical   []Detection `json:"vertical"`
	Horizontal []Detection `json:"horizontal"`
}

// RecognizedSignal is a catalog entry enriched with the confidence of one update
type RecognizedSignal struct {
	signs.Signal
	Confidence float64 `json:"confidence"`
}

// Band returns the display band for the recognition confidence
func (r RecognizedSignal) Band() signs.Band {
	return signs.Classify(r.Confidence)
}

// SignalSet is the display-ready result of one telemetry update, partitioned by orientation
type SignalSet struct {
	Vertical   []RecognizedSignal `json:"VERTICAL"`
	Horizontal []RecognizedSignal `json:"HORIZONTAL"`
}

// EmptySet returns a set with both partitions present and empty
func EmptySet() SignalSet {
	return SignalSet{
		Vertical:   []RecognizedSignal{},
		Horizontal: []RecognizedSignal{},
	}
}

// Len returns the number of recognized signs across both partitions
func (s SignalSet) Len() int {
	return len(s.Vertical) + len(s.Horizontal)
}
