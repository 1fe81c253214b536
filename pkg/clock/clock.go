// Package clock defines the logical time used by the simulation kernel.
//
// Time is a purely logical, totally ordered value: the kernel only compares
// and identifies instants, it never relates them to wall-clock time. Each
// level interprets time through its own TimeModel, which maps the instant of
// its last reaction to the instant of its next one:
//
//	Periodic{Step: 1}            0 -> 1 -> 2 -> 3 ...
//	Periodic{Offset: 1, Step: 3} 0 -> 1 -> 4 -> 7 ...
//	Schedule{2, 3, 7}            0 -> 2 -> 3 -> 7 -> Infinity
//
// TotalOrderLess breaks ties between equal instants deterministically using
// a secondary key, giving every participant the same ordering.
//
// Note: Sequence is not goroutine-safe. Each simulation run owns its own
// sequences and drives them from the single scheduling goroutine.
package clock

import (
	"math"
	"strconv"
)

// Time is a logical timestamp.
type Time int64

// Infinity is the sentinel upper bound of a level that will never react again.
const Infinity Time = math.MaxInt64

// Less reports whether t happens strictly before other.
func (t Time) Less(other Time) bool { return t < other }

// IsInfinite reports whether t is the Infinity sentinel.
func (t Time) IsInfinite() bool { return t == Infinity }

func (t Time) String() string {
	if t.IsInfinite() {
		return "+inf"
	}
	return strconv.FormatInt(int64(t), 10)
}

// Min returns the earliest of the given instants, or Infinity if none is given.
func Min(times ...Time) Time {
	m := Infinity
	for _, t := range times {
		if t < m {
			m = t
		}
	}
	return m
}

// TotalOrderLess defines a deterministic total order over (time, key) pairs.
// Given two entries with times tA and tB keyed by keyA and keyB, entry A is
// "less" if:
//
//	tA < tB, or
//	tA == tB and keyA < keyB (lexicographic)
func TotalOrderLess(tA Time, keyA string, tB Time, keyB string) bool {
	if tA != tB {
		return tA < tB
	}
	return keyA < keyB
}

// TimeModel computes the next reaction instant of a level from the instant
// of its previous reaction. Implementations must return a time strictly
// greater than t, or Infinity.
type TimeModel interface {
	NextTime(t Time) Time
}

// Periodic is a uniform time model reacting at Offset + k*Step for k >= 0.
// A zero Offset yields multiples of Step; a non-positive Step never reacts.
type Periodic struct {
	Offset Time
	Step   Time
}

// NextTime returns the smallest Offset + k*Step strictly greater than t.
func (p Periodic) NextTime(t Time) Time {
	if p.Step <= 0 || t.IsInfinite() {
		return Infinity
	}
	if t < p.Offset {
		return p.Offset
	}
	k := (t-p.Offset)/p.Step + 1
	next := p.Offset + k*p.Step
	if next <= t {
		// overflow
		return Infinity
	}
	return next
}

// Schedule is a non-uniform time model listing reaction instants in
// increasing order. After the last instant the level never reacts again.
type Schedule []Time

// NextTime returns the first scheduled instant strictly greater than t.
func (s Schedule) NextTime(t Time) Time {
	for _, at := range s {
		if at > t {
			return at
		}
	}
	return Infinity
}

// TimeModelFunc adapts an ordinary function to the TimeModel interface.
type TimeModelFunc func(t Time) Time

// NextTime calls f(t).
func (f TimeModelFunc) NextTime(t Time) Time { return f(t) }

// Sequence is a monotonic identifier generator owned by a simulation run.
// Not goroutine-safe; see package doc.
type Sequence struct {
	value uint64
}

// Next increments the sequence and returns the new value.
func (s *Sequence) Next() uint64 {
	s.value++
	return s.value
}

// Value returns the last issued value without advancing the sequence.
func (s *Sequence) Value() uint64 { return s.value }

// Reset rewinds the sequence so the next issued value is 1.
func (s *Sequence) Reset() { s.value = 0 }
