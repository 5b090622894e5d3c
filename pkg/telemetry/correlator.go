package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/silviot/vehiclelink/pkg/signs"
)

// ErrMalformed marks an inbound text message that could not be decoded
var ErrMalformed = errors.New("malformed telemetry")

// Decode parses a signals envelope
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

// Correlate matches the detections of env against the catalog.
// Unknown ids are dropped and input order is kept. The result never shares
// memory with a previous set, so callers can replace their copy wholesale.
func Correlate(catalog *signs.Catalog, env Envelope) SignalSet {
	return SignalSet{
		Vertical:   correlate(catalog, signs.Vertical, env.Vertical),
		Horizontal: correlate(catalog, signs.Horizontal, env.Horizontal),
	}
}

func correlate(catalog *signs.Catalog, orientation signs.Orientation, detections []Detection) []RecognizedSignal {
	out := make([]RecognizedSignal, 0, len(detections))
	for _, d := range detections {
		sig, ok := catalog.Lookup(d.ID, orientation)
		if !ok {
			continue
		}
		out = append(out, RecognizedSignal{
			Signal:     sig,
			Confidence: clampConfidence(d.Confidence),
		})
	}
	return out
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
