package feed

import "time"

// Attempt is one dispatched fetch, tagged at dispatch time.
type Attempt struct {
	Sequence     uint64
	Generation   uint64
	ContextKey   string
	DispatchedAt time.Time
}

// Verdict is the guard's decision for a resolved attempt.
type Verdict int

const (
	Accept Verdict = iota
	RejectStopped
	RejectGeneration
	RejectSequence
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case RejectStopped:
		return "stopped"
	case RejectGeneration:
		return "stale_generation"
	case RejectSequence:
		return "stale_sequence"
	default:
		return "unknown"
	}
}

// StaleDataGuard holds the sequence/generation bookkeeping of one source and
// decides whether a resolved attempt may still update FeedState.
//
// It is not safe for concurrent use; the owning Source serializes access.
type StaleDataGuard struct {
	generation   uint64
	nextSequence uint64
	lastResolved uint64
	stopped      bool
}

// Dispatch tags a new attempt with the next sequence number and the current
// generation.
func (g *StaleDataGuard) Dispatch(contextKey string, now time.Time) Attempt {
	g.nextSequence++
	return Attempt{
		Sequence:     g.nextSequence,
		Generation:   g.generation,
		ContextKey:   contextKey,
		DispatchedAt: now,
	}
}

// Advance starts a new generation. Attempts dispatched before the call can
// no longer be accepted.
func (g *StaleDataGuard) Advance() uint64 {
	g.generation++
	return g.generation
}

// Stop rejects every attempt from now on.
func (g *StaleDataGuard) Stop() {
	g.stopped = true
}

// Generation returns the current generation.
func (g *StaleDataGuard) Generation() uint64 {
	return g.generation
}

// LastResolved returns the highest sequence that has updated FeedState.
func (g *StaleDataGuard) LastResolved() uint64 {
	return g.lastResolved
}

// Check evaluates a resolved attempt without recording it. Only strictly
// greater sequences pass; equal ones are duplicates.
func (g *StaleDataGuard) Check(a Attempt) Verdict {
	switch {
	case g.stopped:
		return RejectStopped
	case a.Generation != g.generation:
		return RejectGeneration
	case a.Sequence <= g.lastResolved:
		return RejectSequence
	default:
		return Accept
	}
}

// Admit checks the attempt and, when accepted, moves the watermark to its
// sequence. Successes and failures both advance it so an older response can
// never overwrite state produced by a newer one.
func (g *StaleDataGuard) Admit(a Attempt) Verdict {
	v := g.Check(a)
	if v == Accept {
		g.lastResolved = a.Sequence
	}
	return v
}
