package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Scope is the cache store of one logical request. It maps a command
// identifier to a partition of key → cached result.
//
// Contract:
// - Concurrency: safe for concurrent use by every goroutine of the request.
// - Locking: no lock is held while a compute function runs.
// - Lifetime: created by Registry.Begin, emptied by Registry.End; a scope is
// never shared by two requests.
type Scope struct {
	id       string
	started  time.Time
	policy   Policy
	registry *Registry

	mu         sync.RWMutex
	partitions map[string]*partition
	ended      bool

	logMu sync.Mutex
	log   []Execution
}

type partition struct {
	mu      sync.RWMutex
	entries map[any]*entry
	// gens counts removals per key; a compute stores only if its key's
	// count is unchanged.
	gens    map[any]uint64
	flights map[any]*flight
}

// flight is the in-progress computation of one key. Each key gets its own
// group, so keys never share a flight however they print.
type flight struct {
	group singleflight.Group
	refs  int
}

// flightName is the only key used inside a flight's group.
const flightName = "compute"

type entry struct {
	value   any
	created time.Time
}

func newScope(id string, policy Policy, registry *Registry) *Scope {
	return &Scope{
		id:         id,
		started:    time.Now(),
		policy:     policy,
		registry:   registry,
		partitions: make(map[string]*partition),
	}
}

// ID returns the scope's unique identifier.
func (s *Scope) ID() string { return s.id }

// Started returns when the scope began.
func (s *Scope) Started() time.Time { return s.started }

// Ended reports whether the scope has been ended.
func (s *Scope) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

// GetOrCompute returns the value cached under (commandID, key). On a miss it
// runs compute, stores a successful result and returns it with
// fromCache=false. A failed compute stores nothing and its error is returned
// unchanged.
func (s *Scope) GetOrCompute(ctx context.Context, commandID string, key any, compute ComputeFunc) (any, bool, error) {
	if p := s.lookup(commandID); p != nil {
		if e, ok := p.get(key); ok {
			return e.value, true, nil
		}
	}

	p := s.partition(commandID)
	if p == nil {
		// Ended while the request was still running: serve fresh, keep nothing.
		v, err := compute(ctx)
		return v, false, err
	}

	if !s.policy.SingleFlight {
		return p.computeAndStore(ctx, key, compute)
	}

	for {
		v, computed, err := p.shared(ctx, key, compute)
		var pe *computePanic
		if errors.As(err, &pe) {
			if computed {
				panic(pe.value)
			}
			continue
		}
		if err != nil && !computed && ctx.Err() == nil && isContextError(err) {
			// The computing caller was cancelled; this one is still live and
			// takes over the computation.
			continue
		}
		if err != nil {
			return v, false, err
		}
		return v, !computed, nil
	}
}

// shared joins the key's flight and waits for its result or for ctx to end.
// computed reports whether this caller's compute ran.
func (p *partition) shared(ctx context.Context, key any, compute ComputeFunc) (any, bool, error) {
	f := p.join(key)
	defer p.leave(key, f)

	computed := false
	ch := f.group.DoChan(flightName, func() (v any, err error) {
		// A flight that finished while this one queued may have stored already.
		if e, ok := p.get(key); ok {
			return e.value, nil
		}
		computed = true
		defer func() {
			if r := recover(); r != nil {
				err = &computePanic{value: r}
			}
		}()
		v, _, err = p.computeAndStore(ctx, key, compute)
		return v, err
	})

	select {
	case res := <-ch:
		return res.Val, computed, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (p *partition) join(key any) *flight {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.flights[key]
	if !ok {
		f = &flight{}
		p.flights[key] = f
	}
	f.refs++
	return f
}

func (p *partition) leave(key any, f *flight) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f.refs--
	if f.refs == 0 && p.flights[key] == f {
		delete(p.flights, key)
	}
}

// computePanic carries a compute panic back to the caller that ran it. The
// flight's goroutine must not panic, or the process dies.
type computePanic struct {
	value any
}

func (p *computePanic) Error() string { return fmt.Sprintf("cache: compute panicked: %v", p.value) }

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Remove deletes the entries of commandID's partition stored under keys.
// Missing keys are ignored and an empty key set removes nothing. A compute
// for one of keys that is still running will not store its result; computes
// for other keys are unaffected. It returns the number of entries removed.
func (s *Scope) Remove(commandID string, keys ...any) int {
	if len(keys) == 0 {
		return 0
	}
	p := s.lookup(commandID)
	if p == nil {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for _, key := range keys {
		p.gens[key]++
		if _, ok := p.entries[key]; ok {
			delete(p.entries, key)
			removed++
		}
	}
	return removed
}

// Peek returns the cached value without computing anything.
func (s *Scope) Peek(commandID string, key any) (any, bool) {
	p := s.lookup(commandID)
	if p == nil {
		return nil, false
	}
	e, ok := p.get(key)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Len returns the number of entries in commandID's partition.
func (s *Scope) Len(commandID string) int {
	p := s.lookup(commandID)
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Commands returns the identifiers of partitions that exist in the scope.
func (s *Scope) Commands() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	return ids
}

// Executions returns a copy of the scope's request log.
func (s *Scope) Executions() []Execution {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	out := make([]Execution, len(s.log))
	copy(out, s.log)
	return out
}

// LastExecution returns the most recent request log entry.
func (s *Scope) LastExecution() (Execution, bool) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if len(s.log) == 0 {
		return Execution{}, false
	}
	return s.log[len(s.log)-1], true
}

func (s *Scope) record(exec Execution) {
	if !s.policy.RecordExecutions {
		return
	}
	s.logMu.Lock()
	s.log = append(s.log, exec)
	s.logMu.Unlock()
}

// lookup returns an existing partition without creating one.
func (s *Scope) lookup(commandID string) *partition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partitions[commandID]
}

// partition returns commandID's partition, creating it on first use.
// It returns nil once the scope has ended.
func (s *Scope) partition(commandID string) *partition {
	s.mu.RLock()
	p, ok := s.partitions[commandID]
	ended := s.ended
	s.mu.RUnlock()
	if ok || ended {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	if p, ok = s.partitions[commandID]; ok {
		return p
	}
	p = &partition{
		entries: make(map[any]*entry),
		gens:    make(map[any]uint64),
		flights: make(map[any]*flight),
	}
	s.partitions[commandID] = p
	return p
}

// end drops every entry. It reports false if the scope had already ended,
// along with the number of entries that were discarded.
func (s *Scope) end() (bool, int) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false, 0
	}
	s.ended = true
	partitions := s.partitions
	s.partitions = nil
	s.mu.Unlock()

	dropped := 0
	for _, p := range partitions {
		p.mu.Lock()
		dropped += len(p.entries)
		p.entries = nil
		p.mu.Unlock()
	}
	return true, dropped
}

func (p *partition) get(key any) (*entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[key]
	return e, ok
}

func (p *partition) generation(key any) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gens[key]
}

// computeAndStore runs compute without holding any lock, then stores the
// result unless key was removed meanwhile or the scope ended. When another caller
// stored first, its entry wins and is returned.
func (p *partition) computeAndStore(ctx context.Context, key any, compute ComputeFunc) (any, bool, error) {
	gen := p.generation(key)

	v, err := compute(ctx)
	if err != nil {
		return v, false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entries == nil || p.gens[key] != gen {
		return v, false, nil
	}
	if e, ok := p.entries[key]; ok {
		return e.value, false, nil
	}
	p.entries[key] = &entry{value: v, created: time.Now()}
	return v, false, nil
}
