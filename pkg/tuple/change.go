package tuple

import (
	"fmt"
	"math"
	"sort"
)

// Direction is the sign of a change.
type Direction int8

const (
	// Insert adds one occurrence of a tuple.
	Insert Direction = 1
	// Delete removes one occurrence of a tuple.
	Delete Direction = -1
)

// Sign returns the direction as a multiplicity delta.
func (d Direction) Sign() int { return int(d) }

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction { return -d }

// Multiply combines two directions: a deletion of a deletion is an insertion.
func (d Direction) Multiply(o Direction) Direction { return d * o }

func (d Direction) String() string {
	switch d {
	case Insert:
		return "INSERT"
	case Delete:
		return "DELETE"
	default:
		return fmt.Sprintf("<invalid direction %d>", int8(d))
	}
}

// Timestamp is a totally ordered logical time attached to a tuple occurrence. Non-timely
// networks stamp every occurrence with Zero.
type Timestamp int64

const (
	// Zero is the default timestamp.
	Zero Timestamp = 0
	// Infinity is greater than every finite timestamp.
	Infinity Timestamp = math.MaxInt64
)

// Max returns the later of two timestamps.
func (ts Timestamp) Max(o Timestamp) Timestamp {
	if o > ts {
		return o
	}
	return ts
}

// Min returns the earlier of two timestamps.
func (ts Timestamp) Min(o Timestamp) Timestamp {
	if o < ts {
		return o
	}
	return ts
}

func (ts Timestamp) String() string {
	if ts == Infinity {
		return "inf"
	}
	return fmt.Sprintf("%d", int64(ts))
}

// Signed is a direction together with the timestamp at which it takes effect.
type Signed struct {
	Direction Direction
	Timestamp Timestamp
}

func (s Signed) String() string { return fmt.Sprintf("%s@%s", s.Direction, s.Timestamp) }

// Timeline is the history of a tuple's presence as a sequence of signed events ordered by
// timestamp.
type Timeline []Signed

// NewTimeline returns a timeline where the tuple appears at ts and stays present.
func NewTimeline(ts Timestamp) Timeline { return Timeline{{Direction: Insert, Timestamp: ts}} }

// Add records an event and keeps the timeline ordered by timestamp. An event that cancels a
// pending event of opposite sign at the same timestamp removes both.
func (tl Timeline) Add(s Signed) Timeline {
	for i, e := range tl {
		if e.Timestamp == s.Timestamp && e.Direction == s.Direction.Opposite() {
			return append(tl[:i:i], tl[i+1:]...)
		}
	}
	out := append(Timeline{}, tl...)
	out = append(out, s)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// IsPresent reports whether the tuple is present at the given time.
func (tl Timeline) IsPresent(at Timestamp) bool {
	count := 0
	for _, e := range tl {
		if e.Timestamp > at {
			break
		}
		count += e.Direction.Sign()
	}
	return count > 0
}

// Stamped is a tuple together with its timestamp.
type Stamped struct {
	Tuple     Tuple
	Timestamp Timestamp
}

func (s Stamped) String() string { return fmt.Sprintf("%s@%s", s.Tuple, s.Timestamp) }
