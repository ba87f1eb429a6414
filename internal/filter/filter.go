// Package filter holds the named color filters applied to a composite.
package filter

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// OriginalID is the identity filter.
const OriginalID = "original"

var ErrUnknownFilter = errors.New("unknown filter")

// Kind names a single filter primitive.
type Kind string

const (
	Grayscale  Kind = "grayscale"
	Sepia      Kind = "sepia"
	Saturate   Kind = "saturate"
	Brightness Kind = "brightness"
	Contrast   Kind = "contrast"
	HueRotate  Kind = "hue-rotate"
	Blur       Kind = "blur"
)

// Op is one primitive with its amount. Amounts are fractions (1 = 100%)
// except HueRotate (degrees) and Blur (pixels).
type Op struct {
	Kind   Kind    `json:"kind"`
	Amount float64 `json:"amount"`
}

func (o Op) String() string {
	switch o.Kind {
	case HueRotate:
		return fmt.Sprintf("hue-rotate(%sdeg)", trim(o.Amount))
	case Blur:
		return fmt.Sprintf("blur(%spx)", trim(o.Amount))
	default:
		return fmt.Sprintf("%s(%s%%)", o.Kind, trim(o.Amount*100))
	}
}

// trim formats v without float noise, e.g. 1.1*100 prints as 110.
func trim(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}

// Spec is a named chain of primitives.
type Spec struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Ops  []Op   `json:"ops"`
}

// IsIdentity reports whether the filter leaves pixels untouched.
func (s Spec) IsIdentity() bool {
	return len(s.Ops) == 0
}

// CSS renders the filter in CSS filter-function syntax.
func (s Spec) CSS() string {
	if s.IsIdentity() {
		return "none"
	}
	parts := make([]string, len(s.Ops))
	for i, op := range s.Ops {
		parts[i] = op.String()
	}
	return strings.Join(parts, " ")
}

var catalog = []Spec{
	{ID: OriginalID, Name: "Original"},
	{ID: "bw", Name: "B&W", Ops: []Op{{Grayscale, 1}}},
	{ID: "vintage", Name: "Vintage", Ops: []Op{{Sepia, 0.6}, {Saturate, 0.8}}},
	{ID: "warm", Name: "Warm", Ops: []Op{{Sepia, 0.3}, {Saturate, 1.5}, {Brightness, 1.05}}},
	{ID: "cool", Name: "Cool", Ops: []Op{{HueRotate, 180}, {Saturate, 1.2}}},
	{ID: "noir", Name: "High Contrast", Ops: []Op{{Grayscale, 1}, {Contrast, 1.5}}},
	{ID: "dreamy", Name: "Soft/Dreamy", Ops: []Op{{Brightness, 1.1}, {Saturate, 0.8}, {Blur, 0.5}}},
	{ID: "retro", Name: "Retro 80s", Ops: []Op{{Saturate, 1.8}, {Contrast, 1.2}, {HueRotate, -10}}},
}

// All returns the filters in display order.
func All() []Spec {
	return append([]Spec(nil), catalog...)
}

// Lookup finds a filter by id.
func Lookup(id string) (Spec, bool) {
	for _, s := range catalog {
		if s.ID == id {
			return s, true
		}
	}
	return Spec{}, false
}

// Resolve looks up id, treating "" as the identity filter.
func Resolve(id string) (Spec, error) {
	if id == "" {
		id = OriginalID
	}
	s, ok := Lookup(id)
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownFilter, id)
	}
	return s, nil
}
