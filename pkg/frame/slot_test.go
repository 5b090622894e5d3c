package frame

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestSlotEmpty(t *testing.T) {
	s := NewSlot()
	if f, ok := s.Latest(); ok || f != nil {
		t.Fatal("expected empty slot")
	}
}

func TestSlotLastWriteWins(t *testing.T) {
	s := NewSlot()
	s.Store([]byte("first"))
	seq := s.Store([]byte("second"))

	f, ok := s.Latest()
	if !ok {
		t.Fatal("expected a frame")
	}
	if !bytes.Equal(f.Data, []byte("second")) {
		t.Errorf("expected second frame, got %q", f.Data)
	}
	if f.Seq != seq || seq != 2 {
		t.Errorf("expected seq 2, got frame=%d store=%d", f.Seq, seq)
	}

	stats := s.Stats()
	if stats.Received != 2 || stats.Overwritten != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSlotReadIsNotConsuming(t *testing.T) {
	s := NewSlot()
	s.Store([]byte("a"))

	for i := 0; i < 3; i++ {
		if _, ok := s.Latest(); !ok {
			t.Fatalf("read %d: frame disappeared", i)
		}
	}

	// A frame that was read is not counted as overwritten
	s.Store([]byte("b"))
	if got := s.Stats().Overwritten; got != 0 {
		t.Errorf("expected 0 overwritten, got %d", got)
	}
}

func TestFrameDataURL(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	s := NewSlot()
	s.Store(jpeg)

	f, _ := s.Latest()
	if f.ContentType() != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", f.ContentType())
	}
	url := f.DataURL()
	if !strings.HasPrefix(url, "data:image/jpeg;base64,") {
		t.Errorf("unexpected data url prefix: %s", url)
	}
	if f.DataURL() != url {
		t.Error("data url should be stable across calls")
	}
}

func TestSlotConcurrentAccess(t *testing.T) {
	s := NewSlot()
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.Store([]byte{byte(i)})
		}
	}()
	go func() {
		defer wg.Done()
		var last uint64
		for i := 0; i < 1000; i++ {
			if f, ok := s.Latest(); ok {
				if f.Seq < last {
					t.Errorf("sequence went backwards: %d after %d", f.Seq, last)
					return
				}
				last = f.Seq
			}
		}
	}()
	wg.Wait()

	if got := s.Stats().Received; got != 1000 {
		t.Errorf("expected 1000 frames received, got %d", got)
	}
}
