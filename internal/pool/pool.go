package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cliproxy-gateway/gateway/internal/gwconfig"
	"github.com/cliproxy-gateway/gateway/internal/modelmatch"
)

// Candidate is one provider admitted into a dispatch attempt, carrying the
// upstream model id the matcher resolved (spec §4.3: alias/glob resolution
// happens once, at candidate-selection time, not per-retry).
type Candidate struct {
	State      *State
	UpstreamID string
}

// snapshot is the immutable pool contents swapped atomically on reload
// (spec §5: "Config reload replaces the provider list via an atomic
// pointer swap; in-flight dispatch loops keep using their already-selected
// snapshot").
type snapshot struct {
	cfg    *gwconfig.AppConfig
	states []*State
	byName map[string]*State
}

// Pool is the hot-reloadable, priority-ordered provider registry.
type Pool struct {
	rng   *rand.Rand
	rngMu sync.Mutex

	cur atomic.Pointer[snapshot]

	httpClient *http.Client
}

// New constructs an empty pool. Rebuild must be called once with an
// initial configuration before Candidates will return anything.
func New(httpClient *http.Client) *Pool {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Pool{
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		httpClient: httpClient,
	}
}

// NewSeeded constructs a pool with a deterministic tie-break source, for
// reproducible tests (spec §9: "Random tie-breaking ... injectable for
// deterministic tests").
func NewSeeded(httpClient *http.Client, seed int64) *Pool {
	p := New(httpClient)
	p.rng = rand.New(rand.NewSource(seed))
	return p
}

// Rebuild installs a new configuration as the active snapshot. Existing
// ProviderState entries are reused by name so in-flight cooldowns survive
// a reload that doesn't touch that provider; providers that
// gwconfig.DiffProviders reports as changed, and new providers, start
// healthy and unhydrated, and providers dropped from the new config are
// discarded.
func (p *Pool) Rebuild(cfg *gwconfig.AppConfig) {
	prev := p.cur.Load()
	var prevByName map[string]*State
	affected := make(map[string]bool)
	if prev != nil {
		prevByName = prev.byName
		_, changed := gwconfig.DiffProviders(prev.cfg.Providers, cfg.Providers)
		for _, name := range changed {
			affected[name] = true
		}
	}

	next := &snapshot{
		cfg:    cfg,
		states: make([]*State, 0, len(cfg.Providers)),
		byName: make(map[string]*State, len(cfg.Providers)),
	}
	for i := range cfg.Providers {
		pc := &cfg.Providers[i]
		var st *State
		if prevByName != nil && !affected[strings.ToLower(pc.Name)] {
			if old, ok := prevByName[pc.Name]; ok {
				st = old
				st.Config = pc
			}
		}
		if st == nil {
			st = NewState(pc)
		}
		next.states = append(next.states, st)
		next.byName[pc.Name] = st
	}

	p.cur.Store(next)
}

// Config returns the configuration backing the active snapshot.
func (p *Pool) Config() *gwconfig.AppConfig {
	s := p.cur.Load()
	if s == nil {
		return nil
	}
	return s.cfg
}

// States returns every provider's runtime state, for admin/status surfaces.
func (p *Pool) States() []*State {
	s := p.cur.Load()
	if s == nil {
		return nil
	}
	return append([]*State(nil), s.states...)
}

// ErrNoCandidates is returned when no enabled, healthy provider supports
// the requested model (spec §7: RoutingError -> 503).
var ErrNoCandidates = fmt.Errorf("pool: no provider available for requested model")

// Candidates returns the shuffled highest-priority tier of providers that
// are enabled, not cooling, and support model, per spec §4.5's selection
// algorithm. An empty requested model is treated as "any model" (used by
// the dispatcher for model-listing passthrough requests that carry no model).
func (p *Pool) Candidates(model string) ([]Candidate, error) {
	snap := p.cur.Load()
	if snap == nil {
		return nil, ErrNoCandidates
	}
	now := time.Now()

	type hit struct {
		state      *State
		upstreamID string
	}
	var eligible []hit
	maxPriority := 0
	first := true

	for _, st := range snap.states {
		if !st.Enabled() || st.IsCooling(now) {
			continue
		}
		upstreamID := model
		if model != "" {
			patterns, alias := st.Patterns()
			res := modelmatch.Match(model, patterns, alias)
			if !res.Matched {
				continue
			}
			upstreamID = res.UpstreamID
		}
		pr := st.Config.Priority
		if first || pr > maxPriority {
			maxPriority = pr
			first = false
		}
		eligible = append(eligible, hit{state: st, upstreamID: upstreamID})
	}

	if len(eligible) == 0 {
		return nil, ErrNoCandidates
	}

	tier := eligible[:0:0]
	for _, h := range eligible {
		if h.state.Config.Priority == maxPriority {
			tier = append(tier, h)
		}
	}

	p.rngMu.Lock()
	p.rng.Shuffle(len(tier), func(i, j int) { tier[i], tier[j] = tier[j], tier[i] })
	p.rngMu.Unlock()

	out := make([]Candidate, len(tier))
	for i, h := range tier {
		out[i] = Candidate{State: h.state, UpstreamID: h.upstreamID}
	}
	return out, nil
}

// AnyDeclares reports whether any provider in the active snapshot — even
// one currently disabled or cooling — declares a pattern or alias that
// would serve model. It distinguishes "this model is not offered by any
// provider" (a client validation error) from "every matching provider is
// temporarily unavailable" (a routing error), per the original
// implementation's "model not found" vs. "no providers available" split.
func (p *Pool) AnyDeclares(model string) bool {
	if model == "" {
		return true
	}
	snap := p.cur.Load()
	if snap == nil {
		return false
	}
	for _, st := range snap.states {
		patterns, alias := st.Patterns()
		if modelmatch.Supported(model, patterns, alias) {
			return true
		}
	}
	return false
}

// MarkFailure records a dispatch failure against a provider, freezing it
// for its effective cooldown period (spec §4.4).
func (p *Pool) MarkFailure(st *State, reason string) {
	snap := p.cur.Load()
	var seconds int
	if snap != nil {
		seconds = snap.cfg.CooldownFor(st.Config)
	}
	st.MarkFailure(reason, time.Duration(seconds)*time.Second, time.Now())
}

// MarkSuccess records a dispatch success, returning the provider to healthy.
func (p *Pool) MarkSuccess(st *State) {
	st.MarkSuccess()
}

// Unfreeze clears a named provider's cooldown on demand (admin operation).
func (p *Pool) Unfreeze(name string) bool {
	snap := p.cur.Load()
	if snap == nil {
		return false
	}
	st, ok := snap.byName[name]
	if !ok {
		return false
	}
	st.Unfreeze()
	return true
}

// ListModels returns the deduplicated, sorted union of concrete (non-glob,
// non-wildcard) model ids advertised by enabled providers (spec §6,
// GET /v1/models).
func (p *Pool) ListModels() []string {
	snap := p.cur.Load()
	if snap == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, st := range snap.states {
		if !st.Enabled() {
			continue
		}
		patterns, _ := st.Patterns()
		for _, m := range patterns {
			if !modelmatch.IsConcrete(m) {
				continue
			}
			seen[m] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// modelsResponse mirrors the minimal OpenAI-style {"data":[{"id":...}]}
// shape hydration expects from an upstream models endpoint.
type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// HydrateAll fetches the model list for every provider that declared no
// static model list, per spec §4.5. A provider whose fetch fails falls
// back to a single "*" wildcard pattern so it still participates in
// routing rather than being silently excluded forever.
func (p *Pool) HydrateAll(ctx context.Context) {
	snap := p.cur.Load()
	if snap == nil {
		return
	}
	var wg sync.WaitGroup
	for _, st := range snap.states {
		if !st.NeedsHydration() {
			continue
		}
		wg.Add(1)
		go func(st *State) {
			defer wg.Done()
			p.hydrateOne(ctx, st)
		}(st)
	}
	wg.Wait()
}

func (p *Pool) hydrateOne(ctx context.Context, st *State) {
	patterns, failed := p.fetchModels(ctx, st)
	st.SetPatterns(patterns, failed)
}

func (p *Pool) fetchModels(ctx context.Context, st *State) ([]string, bool) {
	url := st.Config.BaseURL + st.Config.ModelsEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return []string{"*"}, true
	}
	name, value := authHeaderFor(st.Config.APIKey)
	req.Header.Set(name, value)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return []string{"*"}, true
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return []string{"*"}, true
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return []string{"*"}, true
	}
	var parsed modelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Data) == 0 {
		return []string{"*"}, true
	}

	ids := make([]string, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.ID != "" {
			ids = append(ids, d.ID)
		}
	}
	if len(ids) == 0 {
		return []string{"*"}, true
	}
	return ids, false
}

func authHeaderFor(apiKey string) (string, string) {
	return "Authorization", "Bearer " + apiKey
}
