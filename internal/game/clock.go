// Package game holds the stateless rules of a dice round: the shared
// wall-clock cycle, the outcome domain and the house-optimal draw.
package game

import "time"

type Phase string

const (
	PhaseBetting Phase = "APOSTA"
	PhaseDrawing Phase = "SORTEIO"
)

// Clock derives the current phase purely from Unix time, so every process
// and every client computes the same answer without coordination.
type Clock struct {
	Betting time.Duration
	Drawing time.Duration
}

func DefaultClock() Clock {
	return Clock{Betting: 30 * time.Second, Drawing: 10 * time.Second}
}

type Snapshot struct {
	Phase     Phase
	Remaining int64
	Cycle     int64
	Unix      int64
}

func (c Clock) bettingSeconds() int64 { return int64(c.Betting / time.Second) }

func (c Clock) CycleSeconds() int64 {
	return int64((c.Betting + c.Drawing) / time.Second)
}

func (c Clock) offset(unix int64) int64 {
	m := unix % c.CycleSeconds()
	if m < 0 {
		m += c.CycleSeconds()
	}
	return m
}

func (c Clock) Phase(unix int64) Phase {
	if c.offset(unix) < c.bettingSeconds() {
		return PhaseBetting
	}
	return PhaseDrawing
}

// Remaining is the number of seconds left in the current phase.
func (c Clock) Remaining(unix int64) int64 {
	off := c.offset(unix)
	if off < c.bettingSeconds() {
		return c.bettingSeconds() - off
	}
	return c.CycleSeconds() - off
}

func (c Clock) CycleIndex(unix int64) int64 {
	return (unix - c.offset(unix)) / c.CycleSeconds()
}

// TargetCycle is the cycle whose betting window is open now, or opens next
// when the current cycle is already drawing.
func (c Clock) TargetCycle(unix int64) int64 {
	idx := c.CycleIndex(unix)
	if c.Phase(unix) == PhaseDrawing {
		return idx + 1
	}
	return idx
}

// DrawAt is the Unix second at which the given cycle stops taking bets.
func (c Clock) DrawAt(cycle int64) int64 {
	return cycle*c.CycleSeconds() + c.bettingSeconds()
}

// Due reports whether a round opened for cycle must be settled at unix.
func (c Clock) Due(cycle, unix int64) bool {
	return unix >= c.DrawAt(cycle)
}

func (c Clock) At(t time.Time) Snapshot {
	unix := t.Unix()
	return Snapshot{
		Phase:     c.Phase(unix),
		Remaining: c.Remaining(unix),
		Cycle:     c.TargetCycle(unix),
		Unix:      unix,
	}
}
