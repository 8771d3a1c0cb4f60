// Package pool implements the provider pool of spec §4.5: the
// priority-ordered, hot-reloadable collection of provider runtime state,
// its cooldown finite-state machine (spec §4.4), and model-pattern
// hydration.
package pool

import (
	"sync"
	"time"

	"github.com/cliproxy-gateway/gateway/internal/gwconfig"
)

// State is the mutable per-provider runtime record (spec §3
// "ProviderState"). Every mutable field is guarded by mu so that
// mark_failure/mark_success can run concurrently with candidate reads
// without requiring the whole pool to serialize (spec §5).
type State struct {
	Config *gwconfig.ProviderConfig

	mu              sync.Mutex
	modelPatterns   []string
	alias           map[string]string
	cooldownUntil   time.Time
	lastError       string
	lastTestLatency time.Duration
	lastTestTime    time.Time
	hydrated        bool
	hydrationFailed bool
}

// NewState builds a runtime state for a provider, seeding the pattern list
// from its static config when present.
func NewState(cfg *gwconfig.ProviderConfig) *State {
	s := &State{Config: cfg, alias: cfg.Alias}
	if len(cfg.Models) > 0 {
		s.modelPatterns = append([]string(nil), cfg.Models...)
		s.hydrated = true
	}
	return s
}

// Name is a convenience accessor for the underlying provider's name.
func (s *State) Name() string {
	return s.Config.Name
}

// Enabled reports the administrative on/off flag.
func (s *State) Enabled() bool {
	return s.Config.IsEnabled()
}

// Patterns returns the effective model pattern list and alias map under
// lock (spec §4.3: "If model_patterns is empty and upstream hydration has
// not yet completed, the provider matches nothing").
func (s *State) Patterns() ([]string, map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.modelPatterns...), s.alias
}

// SetPatterns installs a hydrated (or hydration-failed fallback) pattern
// list.
func (s *State) SetPatterns(patterns []string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelPatterns = patterns
	s.hydrated = true
	s.hydrationFailed = failed
}

// NeedsHydration reports whether this state still requires a model-listing
// call before it can serve anything (spec §4.5 "Model hydration").
func (s *State) NeedsHydration() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.hydrated && len(s.Config.Models) == 0
}

// IsCooling reports whether the provider is currently excluded from
// selection (spec §4.4 cooldown FSM). Once now has passed cooldownUntil,
// the provider silently returns to healthy — no event fires, matching the
// "on expiry no event fires" rule in spec §5.
func (s *State) IsCooling(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cooldownUntil.IsZero() && now.Before(s.cooldownUntil)
}

// MarkFailure transitions the state to cooling, advancing cooldownUntil to
// now+duration (never retroactively shortening it) and recording the
// failure reason. duration==0 records the reason without freezing (spec
// §4.4: "cooldown_period == 0 -> healthy (no-op)").
func (s *State) MarkFailure(reason string, duration time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = reason
	if duration <= 0 {
		return
	}
	next := now.Add(duration)
	if next.After(s.cooldownUntil) {
		s.cooldownUntil = next
	}
}

// MarkSuccess clears cooldown and the last error (spec §4.4: "dispatch
// success -> healthy").
func (s *State) MarkSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldownUntil = time.Time{}
	s.lastError = ""
}

// Unfreeze implements the manual-unfreeze transition.
func (s *State) Unfreeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldownUntil = time.Time{}
}

// RecordTest stores the latency/time of a health probe, if the caller runs
// one (spec §3: "last_test_latency, last_test_time: optional health-probe
// metrics").
func (s *State) RecordTest(latency time.Duration, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTestLatency = latency
	s.lastTestTime = at
}

// Snapshot is a read-only view of a state's mutable fields, used for admin
// status surfaces and logging without holding the lock across I/O.
type Snapshot struct {
	Name            string
	Enabled         bool
	Priority        int
	ModelPatterns   []string
	CooldownUntil   time.Time
	LastError       string
	LastTestLatency time.Duration
	LastTestTime    time.Time
}

// Snapshot captures the current state under lock.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Name:            s.Config.Name,
		Enabled:         s.Config.IsEnabled(),
		Priority:        s.Config.Priority,
		ModelPatterns:   append([]string(nil), s.modelPatterns...),
		CooldownUntil:   s.cooldownUntil,
		LastError:       s.lastError,
		LastTestLatency: s.lastTestLatency,
		LastTestTime:    s.lastTestTime,
	}
}
