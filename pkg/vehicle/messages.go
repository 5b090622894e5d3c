package vehicle

// TypeConfig is the outbound envelope type for configuration pushes
const TypeConfig = "config"

// ConfigPayload is the part of Config the vehicle understands
type ConfigPayload struct {
	SpeedLimit          float64   `json:"speedLimit"`
	DriveMode           DriveMode `json:"driveMode"`
	SteeringSensitivity float64   `json:"steeringSensitivity"`
	PID                 PID       `json:"pidControl"`
}

// ConfigMessage is the wire shape of a config push
type ConfigMessage struct {
	Type    string        `json:"type"` // "config"
	Payload ConfigPayload `json:"payload"`
}

// Message builds the push for the full current config
func (c Config) Message() ConfigMessage {
	return ConfigMessage{
		Type: TypeConfig,
		Payload: ConfigPayload{
			SpeedLimit:          c.SpeedLimit,
			DriveMode:           c.DriveMode,
			SteeringSensitivity: c.SteeringSensitivity,
			PID:                 c.PID,
		},
	}
}
