package channel

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/silviot/vehiclelink/pkg/link"
	"github.com/silviot/vehiclelink/pkg/telemetry"
	"github.com/silviot/vehiclelink/pkg/vehicle"
)

// CommandRequest is the body of POST /api/v1/commands
type CommandRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// FrameResponse is the body of GET /api/v1/frame
type FrameResponse struct {
	Seq         uint64    `json:"seq"`
	ReceivedAt  time.Time `json:"receivedAt"`
	ContentType string    `json:"contentType"`
	DataURL     string    `json:"dataUrl"`
}

// signalView adds the confidence band to a recognized signal
type signalView struct {
	telemetry.RecognizedSignal
	Band string `json:"band"`
}

// Routes registers the HTTP handlers on mux
func (c *Channel) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", c.HandleStatus)
	mux.HandleFunc("GET /api/v1/config", c.HandleGetConfig)
	mux.HandleFunc("PUT /api/v1/config", c.HandlePutConfig)
	mux.HandleFunc("POST /api/v1/commands", c.HandleCommand)
	mux.HandleFunc("POST /api/v1/keys/{key}", c.HandleKey)
	mux.HandleFunc("POST /api/v1/reconnect", c.HandleReconnect)
	mux.HandleFunc("GET /api/v1/signals", c.HandleSignals)
	mux.HandleFunc("GET /api/v1/frame", c.HandleFrame)
}

// HandleStatus handles GET /api/v1/status
func (c *Channel) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c.Status())
}

// HandleGetConfig handles GET /api/v1/config
func (c *Channel) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c.Config())
}

// HandlePutConfig handles PUT /api/v1/config. The body is the full next record.
func (c *Channel) HandlePutConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var next vehicle.Config
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
		return
	}

	if err := c.SetConfig(next); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, vehicle.ErrInvalidConfig) {
			status = http.StatusUnprocessableEntity
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	json.NewEncoder(w).Encode(c.Config())
}

// HandleCommand handles POST /api/v1/commands
func (c *Channel) HandleCommand(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
		return
	}

	if req.Action == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "action required"})
		return
	}

	if err := c.Dispatch(req.Action, req.Params); err != nil {
		writeSendError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"status": "sent",
		"action": req.Action,
	})
}

// HandleKey handles POST /api/v1/keys/{key}
func (c *Channel) HandleKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	key := r.PathValue("key")
	bound, err := c.PressKey(key)
	if err != nil {
		writeSendError(w, err)
		return
	}
	if !bound {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "key not bound"})
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"status": "sent",
		"key":    key,
	})
}

// HandleReconnect handles POST /api/v1/reconnect
func (c *Channel) HandleReconnect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := c.Reconnect(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, link.ErrInvalidEndpoint) {
			status = http.StatusConflict
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(c.Status())
}

// HandleSignals handles GET /api/v1/signals
func (c *Channel) HandleSignals(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	set := c.Signals()
	json.NewEncoder(w).Encode(map[string][]signalView{
		"VERTICAL":   withBands(set.Vertical),
		"HORIZONTAL": withBands(set.Horizontal),
	})
}

// HandleFrame handles GET /api/v1/frame
func (c *Channel) HandleFrame(w http.ResponseWriter, r *http.Request) {
	f, ok := c.Frame()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Raw bytes for image consumers, the data URL otherwise
	if r.URL.Query().Get("format") == "raw" {
		w.Header().Set("Content-Type", f.ContentType())
		w.Write(f.Data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(FrameResponse{
		Seq:         f.Seq,
		ReceivedAt:  f.ReceivedAt,
		ContentType: f.ContentType(),
		DataURL:     f.DataURL(),
	})
}

func writeSendError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, link.ErrNotConnected):
		status = http.StatusServiceUnavailable
	case errors.Is(err, link.ErrTransport):
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func withBands(signals []telemetry.RecognizedSignal) []signalView {
	out := make([]signalView, len(signals))
	for i, s := range signals {
		out[i] = signalView{RecognizedSignal: s, Band: string(s.Band())}
	}
	return out
}
