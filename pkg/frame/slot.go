package frame

import (
	"encoding/base64"
	"net/http"
	"sync"
	"time"
)

// Frame is one opaque video image received from the vehicle.
// Data must not be modified once the frame is stored.
type Frame struct {
	Data       []byte
	Seq        uint64    // Arrival order, starting at 1
	ReceivedAt time.Time

	once        sync.Once
	contentType string
	dataURL     string
}

// ContentType sniffs the media type of the payload
func (f *Frame) ContentType() string {
	f.render()
	return f.contentType
}

// DataURL returns the frame as a data: URL, computed on first use
func (f *Frame) DataURL() string {
	f.render()
	return f.dataURL
}

func (f *Frame) render() {
	f.once.Do(func() {
		f.contentType = http.DetectContentType(f.Data)
		f.dataURL = "data:" + f.contentType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
	})
}

// Stats is a snapshot of slot activity
type Stats struct {
	Received    uint64 // Frames stored
	Overwritten uint64 // Frames replaced before any reader saw them
	LastSeq     uint64
}

// Slot holds only the most recent frame. Writes overwrite, reads never consume.
type Slot struct {
	mu          sync.Mutex
	frame       *Frame
	seq         uint64
	read        bool
	overwritten uint64
}

// NewSlot creates an empty slot
func NewSlot() *Slot {
	return &Slot{}
}

// Store replaces the current frame and returns its sequence number
func (s *Slot) Store(data []byte) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame != nil && !s.read {
		s.overwritten++
	}

	s.seq++
	s.frame = &Frame{
		Data:       data,
		Seq:        s.seq,
		ReceivedAt: time.Now(),
	}
	s.read = false

	return s.seq
}

// Latest returns the most recent frame, if any
func (s *Slot) Latest() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame == nil {
		return nil, false
	}
	s.read = true
	return s.frame, true
}

// Stats returns counters for monitoring
func (s *Slot) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Received:    s.seq,
		Overwritten: s.overwritten,
		LastSeq:     s.seq,
	}
}
