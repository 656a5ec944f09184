package fetch

import (
	"sync"
	"time"
)

// Stats is a per-venue-endpoint rolling counter set, partitioned by connKind
// per §5 ("Rate-limit stats are per-venue monotonic counters; readers take
// point-in-time snapshots"). Grounded on the teacher's telemetry collector
// shape, trimmed to the counters C3's heartbeat needs.
type Stats struct {
	mu            sync.Mutex
	requests      map[ConnKind]int64
	rateLimited   map[ConnKind]int64 // 429 counts, tagged by connKind
	transientErrs map[ConnKind]int64 // 418/5xx and network-error counts, kept separate from the 429 counter
	failedSymbols map[string]struct{}
	lastSuccess   time.Time
	lastFailure   time.Time
}

func NewStats() *Stats {
	return &Stats{
		requests:      make(map[ConnKind]int64),
		rateLimited:   make(map[ConnKind]int64),
		transientErrs: make(map[ConnKind]int64),
		failedSymbols: make(map[string]struct{}),
	}
}

func (s *Stats) RecordRequest(kind ConnKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[kind]++
}

func (s *Stats) RecordRateLimited(kind ConnKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimited[kind]++
}

func (s *Stats) RecordTransient(kind ConnKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transientErrs[kind]++
}

func (s *Stats) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSuccess = time.Now()
}

func (s *Stats) RecordFailedSymbol(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedSymbols[symbol] = struct{}{}
	s.lastFailure = time.Now()
}

// Snapshot is a point-in-time copy safe to log or expose on a heartbeat.
type Snapshot struct {
	Requests      map[ConnKind]int64
	RateLimited   map[ConnKind]int64
	TransientErrs map[ConnKind]int64
	FailedSymbols []string
	LastSuccess   time.Time
	LastFailure   time.Time
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Requests:      make(map[ConnKind]int64, len(s.requests)),
		RateLimited:   make(map[ConnKind]int64, len(s.rateLimited)),
		TransientErrs: make(map[ConnKind]int64, len(s.transientErrs)),
		FailedSymbols: make([]string, 0, len(s.failedSymbols)),
		LastSuccess:   s.lastSuccess,
		LastFailure:   s.lastFailure,
	}
	for k, v := range s.requests {
		snap.Requests[k] = v
	}
	for k, v := range s.rateLimited {
		snap.RateLimited[k] = v
	}
	for k, v := range s.transientErrs {
		snap.TransientErrs[k] = v
	}
	for sym := range s.failedSymbols {
		snap.FailedSymbols = append(snap.FailedSymbols, sym)
	}
	return snap
}
