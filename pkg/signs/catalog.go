package signs

import (
	"errors"
	"fmt"
)

// Orientation tells whether a sign is painted on the road or mounted on a post
type Orientation string

const (
	Vertical   Orientation = "VERTICAL"
	Horizontal Orientation = "HORIZONTAL"
)

// Valid reports whether o is one of the known orientations
func (o Orientation) Valid() bool {
	return o == Vertical || o == Horizontal
}

// Signal is a catalog entry for a road sign the vehicle can recognize
type Signal struct {
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	Orientation Orientation `json:"type"`
	Icon        string      `json:"iconUrl,omitempty"` // Optional asset reference
}

type key struct {
	id          string
	orientation Orientation
}

// Catalog is the immutable set of known signs, keyed by (id, orientation)
type Catalog struct {
	signals []Signal
	index   map[key]int
}

var (
	ErrEmptyID            = errors.New("signal id is empty")
	ErrInvalidOrientation = errors.New("invalid signal orientation")
	ErrDuplicateSignal    = errors.New("duplicate signal")
)

// NewCatalog builds a catalog. Ids only need to be unique within an orientation.
func NewCatalog(signals ...Signal) (*Catalog, error) {
	c := &Catalog{
		signals: make([]Signal, 0, len(signals)),
		index:   make(map[key]int, len(signals)),
	}

	for _, s := range signals {
		if s.ID == "" {
			return nil, ErrEmptyID
		}
		if !s.Orientation.Valid() {
			return nil, fmt.Errorf("%w: %q for %s", ErrInvalidOrientation, s.Orientation, s.ID)
		}
		k := key{id: s.ID, orientation: s.Orientation}
		if _, exists := c.index[k]; exists {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateSignal, s.Orientation, s.ID)
		}
		c.index[k] = len(c.signals)
		c.signals = append(c.signals, s)
	}

	return c, nil
}

// Lookup finds the entry for id within the given orientation
func (c *Catalog) Lookup(id string, orientation Orientation) (Signal, bool) {
	if c == nil {
		return Signal{}, false
	}
	i, ok := c.index[key{id: id, orientation: orientation}]
	if !ok {
		return Signal{}, false
	}
	return c.signals[i], true
}

// All returns a copy of the catalog entries in declaration order
func (c *Catalog) All() []Signal {
	if c == nil {
		return nil
	}
	out := make([]Signal, len(c.signals))
	copy(out, c.signals)
	return out
}

// Len returns the number of entries
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.signals)
}

var defaultSignals = []Signal{
	{ID: "stop", Label: "Parada obrigatória", Orientation: Vertical, Icon: "/traffic-signs/r1-parada-obrigatoria.png"},
	{ID: "parking", Label: "Estacionamento", Orientation: Vertical, Icon: "/traffic-signs/r6b-estacionamento-regulamentado.png"},
	{ID: "dest_a", Label: "Destino A", Orientation: Vertical, Icon: "/icons/destino-a.png"},
	{ID: "dest_b", Label: "Destino B", Orientation: Vertical, Icon: "/icons/destino-b.png"},
	{ID: "dest_c", Label: "Destino C", Orientation: Vertical, Icon: "/icons/destino-c.png"},
	{ID: "left_lane", Label: "Faixa à esquerda", Orientation: Horizontal, Icon: "/icons/left-lane.png"},
	{ID: "right_lane", Label: "Faixa à direita", Orientation: Horizontal, Icon: "/icons/right-lane.png"},
}

var defaultCatalog = mustCatalog(defaultSignals...)

// Default returns the built-in catalog of signs the vehicle is trained on
func Default() *Catalog {
	return defaultCatalog
}

func mustCatalog(signals ...Signal) *Catalog {
	c, err := NewCatalog(signals...)
	if err != nil {
		panic(err)
	}
	return c
}
