package vehiclesim

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand/v2"
	"time"

	"github.com/silviot/vehiclelink/pkg/signs"
	"github.com/silviot/vehiclelink/pkg/telemetry"
)

// signalsEvery is how many frames pass between two signals envelopes
const signalsEvery = 10

// Stream sends synthetic frames every interval and a signals envelope every
// few frames, until ctx is cancelled. Ticks with no connected client are skipped.
func (s *Server) Stream(ctx context.Context, interval time.Duration, catalog *signs.Catalog) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		}

		if s.Clients() == 0 {
			continue
		}

		n++
		data, err := syntheticFrame(n)
		if err != nil {
			s.logger.Error("failed to render frame", "error", err)
			continue
		}
		if err := s.SendFrame(data); err != nil {
			s.logger.Debug("failed to send frame", "error", err)
		}

		if n%signalsEvery == 0 {
			if err := s.SendSignals(randomDetections(catalog)); err != nil {
				s.logger.Debug("failed to send signals", "error", err)
			}
		}
	}
}

// syntheticFrame renders a small gradient that shifts with n
func syntheticFrame(n int) ([]byte, error) {
	const w, h = 160, 120
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + n*4) % 256),
				G: uint8((y + n*2) % 256),
				B: 96,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// randomDetections picks a few catalog signs with random confidences
func randomDetections(catalog *signs.Catalog) telemetry.Envelope {
	env := telemetry.Envelope{
		Type:       telemetry.TypeSignals,
		Vertical:   []telemetry.Detection{},
		Horizontal: []telemetry.Detection{},
	}

	for _, sig := range catalog.All() {
		if rand.IntN(3) != 0 {
			continue
		}
		d := telemetry.Detection{
			ID:         sig.ID,
			Confidence: float64(30 + rand.IntN(71)),
		}
		if sig.Orientation == signs.Vertical {
			env.Vertical = append(env.Vertical, d)
		} else {
			env.Horizontal = append(env.Horizontal, d)
		}
	}

	return env
}
