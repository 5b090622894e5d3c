package vehicle

import (
	"errors"
	"fmt"
	"math"
	"regexp"
)

// DriveMode selects who steers the vehicle
type DriveMode string

const (
	Manual     DriveMode = "MANUAL"
	Autonomous DriveMode = "AUTONOMOUS"
)

// Valid reports whether m is a known drive mode
func (m DriveMode) Valid() bool {
	return m == Manual || m == Autonomous
}

// Label returns the display text for the mode
func (m DriveMode) Label() string {
	switch m {
	case Manual:
		return "Condução manual"
	case Autonomous:
		return "Condução autônoma"
	default:
		return string(m)
	}
}

// PID holds the steering controller gains carried to the vehicle
type PID struct {
	P float64 `json:"p"`
	I float64 `json:"i"`
	D float64 `json:"d"`
}

// Config is the vehicle-facing settings record
type Config struct {
	SpeedLimit          float64   `json:"speedLimit"`
	DriveMode           DriveMode `json:"driveMode"`
	SteeringSensitivity float64   `json:"steeringSensitivity"`
	PID                 PID       `json:"pidControl"`
	CarConnection       string    `json:"carConnection,omitempty"` // Endpoint; empty when absent
}

const (
	MinSensitivity = 0.1
	MaxSensitivity = 1.0
)

// ErrInvalidConfig is returned for records that fail validation
var ErrInvalidConfig = errors.New("invalid vehicle config")

// Default returns the settings the channel starts with
func Default() Config {
	return Config{
		SpeedLimit:          50,
		DriveMode:           Manual,
		SteeringSensitivity: 0.5,
		PID:                 PID{P: 0.1, I: 0.1, D: 0.1},
	}
}

// Validate checks the numeric ranges and the drive mode. The endpoint is not
// checked here: an invalid endpoint is accepted but never dialed.
func (c Config) Validate() error {
	if math.IsInf(c.SpeedLimit, 0) || !(c.SpeedLimit > 0) {
		return fmt.Errorf("%w: speedLimit must be > 0, got %v", ErrInvalidConfig, c.SpeedLimit)
	}
	if !c.DriveMode.Valid() {
		return fmt.Errorf("%w: unknown driveMode %q", ErrInvalidConfig, c.DriveMode)
	}
	if !inRange(c.SteeringSensitivity) {
		return fmt.Errorf("%w: steeringSensitivity %v outside [%v, %v]", ErrInvalidConfig, c.SteeringSensitivity, MinSensitivity, MaxSensitivity)
	}
	gains := []struct {
		name  string
		value float64
	}{{"p", c.PID.P}, {"i", c.PID.I}, {"d", c.PID.D}}
	for _, g := range gains {
		if !inRange(g.value) {
			return fmt.Errorf("%w: pidControl.%s %v outside [%v, %v]", ErrInvalidConfig, g.name, g.value, MinSensitivity, MaxSensitivity)
		}
	}
	return nil
}

// ChangePushDiffers reports whether any field that triggers a change push
// differs between c and other. Drive mode and endpoint are not compared.
func (c Config) ChangePushDiffers(other Config) bool {
	return c.SpeedLimit != other.SpeedLimit ||
		c.SteeringSensitivity != other.SteeringSensitivity ||
		c.PID != other.PID
}

// inRange is false for NaN and infinities
func inRange(v float64) bool {
	return v >= MinSensitivity && v <= MaxSensitivity
}

var endpointPattern = regexp.MustCompile(`^(ws|wss)://.+$`)

// ValidEndpoint reports whether s is a dialable ws:// or wss:// address
func ValidEndpoint(s string) bool {
	return endpointPattern.MatchString(s)
}
