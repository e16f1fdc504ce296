package viseme

import (
	"fmt"
	"sort"
)

// IdleShape is the mouth shape shown when no speech audio is playing.
const IdleShape = "X"

// Shapes is the set of mouth shape identifiers the extractor can emit,
// including the idle shape.
var Shapes = []string{"A", "B", "C", "D", "E", "F", "G", "H", IdleShape}

// Cue maps a time interval of the response audio to a mouth shape.
// Times are seconds from the start of the clip.
type Cue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Shape string  `json:"value"`
}

// Valid reports whether the cue covers a non-empty interval.
func (c Cue) Valid() bool {
	return c.End > c.Start
}

// Offset returns a copy of cues with every timestamp shifted by delta seconds.
func Offset(cues []Cue, delta float64) []Cue {
	out := make([]Cue, len(cues))
	for i, c := range cues {
		out[i] = Cue{Start: c.Start + delta, End: c.End + delta, Shape: c.Shape}
	}
	return out
}

// Chunk is one extractor result plus the duration of the audio segment it
// was derived from. Durations drive the offsets applied during Merge.
type Chunk struct {
	Cues     []Cue
	Duration float64
}

// Merge combines per-segment cue lists into a single absolute timeline.
// Each chunk's cues are shifted by the cumulative duration of all prior
// chunks, then the whole list is sorted ascending by start time.
func Merge(chunks []Chunk) []Cue {
	var merged []Cue
	var offset float64
	for _, ch := range chunks {
		merged = append(merged, Offset(ch.Cues, offset)...)
		offset += ch.Duration
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start < merged[j].Start
	})
	return merged
}

// FindAt returns the first cue whose [Start, End) interval contains t.
// The cue list is assumed sorted ascending by start.
func FindAt(cues []Cue, t float64) (Cue, bool) {
	for _, c := range cues {
		if t >= c.Start && t < c.End {
			return c, true
		}
	}
	return Cue{}, false
}

// KnownShape reports whether id is one of the identifiers in Shapes.
func KnownShape(id string) bool {
	for _, s := range Shapes {
		if s == id {
			return true
		}
	}
	return false
}

// Validate checks that every cue uses a known shape, covers a non-empty
// interval and that the list is sorted ascending by start.
func Validate(cues []Cue) error {
	for i, c := range cues {
		if !KnownShape(c.Shape) {
			return fmt.Errorf("cue %d: unknown shape %q", i, c.Shape)
		}
		if !c.Valid() {
			return fmt.Errorf("cue %d: end %.3f not after start %.3f", i, c.End, c.Start)
		}
		if i > 0 && c.Start < cues[i-1].Start {
			return fmt.Errorf("cue %d: start %.3f before previous start %.3f", i, c.Start, cues[i-1].Start)
		}
	}
	return nil
}
