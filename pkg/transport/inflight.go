package transport

import "golang.org/x/sync/semaphore"

// Limiter caps the number of exchanges being served at once. Admission
// uses try-acquire semantics: a full limiter rejects immediately instead
// of queueing the request.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter creates a limiter allowing up to max concurrent exchanges.
func NewLimiter(max int64) *Limiter {
	return &Limiter{sem: semaphore.NewWeighted(max)}
}

// Acquire claims a slot. Returns false when the limiter is full.
func (l *Limiter) Acquire() bool {
	return l.sem.TryAcquire(1)
}

// Release returns a previously acquired slot.
func (l *Limiter) Release() {
	l.sem.Release(1)
}
