package pool

import (
	"testing"
	"time"

	"github.com/cliproxy-gateway/gateway/internal/gwconfig"
)

func testConfig() *gwconfig.AppConfig {
	cfg := &gwconfig.AppConfig{
		APIKey: "gateway-key",
		Providers: []gwconfig.ProviderConfig{
			{Name: "low", BaseURL: "https://low.example", Priority: 1, Models: []string{"gpt-4"}},
			{Name: "high-a", BaseURL: "https://high-a.example", Priority: 10, Models: []string{"gpt-4"}},
			{Name: "high-b", BaseURL: "https://high-b.example", Priority: 10, Models: []string{"gpt-4"}},
		},
		Preferences: gwconfig.Preferences{ModelTimeoutSeconds: 20, CooldownPeriodSeconds: 60},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestCandidates_RestrictsToMaxPriorityTier(t *testing.T) {
	p := NewSeeded(nil, 1)
	p.Rebuild(testConfig())

	cands, err := p.Candidates("gpt-4")
	if err != nil {
		t.Fatalf("Candidates() error: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("len(candidates) = %d, want 2 (only priority-10 tier)", len(cands))
	}
	for _, c := range cands {
		if c.State.Config.Priority != 10 {
			t.Errorf("candidate %s has priority %d, want 10", c.State.Name(), c.State.Config.Priority)
		}
	}
}

func TestCandidates_ExcludesCoolingProvider(t *testing.T) {
	p := NewSeeded(nil, 1)
	p.Rebuild(testConfig())

	cands, _ := p.Candidates("gpt-4")
	var target *State
	for _, c := range cands {
		if c.State.Name() == "high-a" {
			target = c.State
		}
	}
	if target == nil {
		t.Fatal("expected high-a among candidates")
	}
	p.MarkFailure(target, "upstream 500")

	cands, err := p.Candidates("gpt-4")
	if err != nil {
		t.Fatalf("Candidates() error: %v", err)
	}
	if len(cands) != 1 || cands[0].State.Name() != "high-b" {
		t.Fatalf("expected only high-b after freezing high-a, got %+v", cands)
	}
}

func TestCandidates_RecoversAfterCooldownExpiry(t *testing.T) {
	p := NewSeeded(nil, 1)
	cfg := testConfig()
	cfg.Preferences.CooldownPeriodSeconds = 0
	override := 1
	cfg.Providers[1].CooldownOverride = &override
	p.Rebuild(cfg)

	cands, _ := p.Candidates("gpt-4")
	var target *State
	for _, c := range cands {
		if c.State.Name() == "high-a" {
			target = c.State
		}
	}
	p.MarkFailure(target, "timeout")
	if !target.IsCooling(time.Now()) {
		t.Fatal("expected high-a to be cooling immediately after failure")
	}
	if target.IsCooling(time.Now().Add(2 * time.Second)) {
		t.Error("expected cooldown to have expired after override duration")
	}
}

func TestCandidates_NoMatchReturnsErrNoCandidates(t *testing.T) {
	p := NewSeeded(nil, 1)
	p.Rebuild(testConfig())

	if _, err := p.Candidates("claude-3"); err != ErrNoCandidates {
		t.Fatalf("Candidates() error = %v, want ErrNoCandidates", err)
	}
}

func TestCandidates_ZeroCooldownIsNoOp(t *testing.T) {
	p := NewSeeded(nil, 1)
	cfg := testConfig()
	cfg.Preferences.CooldownPeriodSeconds = 0
	p.Rebuild(cfg)

	cands, _ := p.Candidates("gpt-4")
	p.MarkFailure(cands[0].State, "blip")

	if cands[0].State.IsCooling(time.Now()) {
		t.Error("expected zero cooldown_period to leave the provider healthy")
	}
}

func TestRebuild_PreservesCooldownAcrossUnrelatedReload(t *testing.T) {
	p := NewSeeded(nil, 1)
	cfg := testConfig()
	p.Rebuild(cfg)

	cands, _ := p.Candidates("gpt-4")
	var target *State
	for _, c := range cands {
		if c.State.Name() == "high-a" {
			target = c.State
		}
	}
	p.MarkFailure(target, "error")

	cfg2 := testConfig()
	cfg2.Providers[2].Priority = 20 // tweak an unrelated provider
	p.Rebuild(cfg2)

	for _, st := range p.States() {
		if st.Name() == "high-a" && !st.IsCooling(time.Now()) {
			t.Error("expected high-a's cooldown to survive an unrelated reload")
		}
	}
}

func TestMarkSuccess_ClearsCooldown(t *testing.T) {
	p := NewSeeded(nil, 1)
	p.Rebuild(testConfig())

	cands, _ := p.Candidates("gpt-4")
	st := cands[0].State
	p.MarkFailure(st, "err")
	if !st.IsCooling(time.Now()) {
		t.Fatal("expected provider to be cooling")
	}
	p.MarkSuccess(st)
	if st.IsCooling(time.Now()) {
		t.Error("expected MarkSuccess to clear cooldown")
	}
}

func TestListModels_DeduplicatesAndExcludesWildcards(t *testing.T) {
	p := NewSeeded(nil, 1)
	cfg := testConfig()
	cfg.Providers = append(cfg.Providers, gwconfig.ProviderConfig{
		Name: "catch-all", BaseURL: "https://catch.example", Priority: 1, Models: []string{"*"},
	})
	p.Rebuild(cfg)

	models := p.ListModels()
	if len(models) != 1 || models[0] != "gpt-4" {
		t.Fatalf("ListModels() = %v, want [gpt-4]", models)
	}
}

func TestUnfreeze_ClearsNamedProvider(t *testing.T) {
	p := NewSeeded(nil, 1)
	p.Rebuild(testConfig())

	cands, _ := p.Candidates("gpt-4")
	st := cands[0].State
	p.MarkFailure(st, "err")

	if !p.Unfreeze(st.Name()) {
		t.Fatal("expected Unfreeze to find the provider")
	}
	if st.IsCooling(time.Now()) {
		t.Error("expected Unfreeze to clear cooldown")
	}
	if p.Unfreeze("does-not-exist") {
		t.Error("expected Unfreeze of unknown provider to report false")
	}
}

func TestCandidates_ShufflesWithinTier(t *testing.T) {
	cfg := testConfig()
	orders := map[string]bool{}
	for seed := int64(0); seed < 20; seed++ {
		p := NewSeeded(nil, seed)
		p.Rebuild(cfg)
		cands, err := p.Candidates("gpt-4")
		if err != nil {
			t.Fatalf("Candidates() error: %v", err)
		}
		key := cands[0].State.Name() + "," + cands[1].State.Name()
		orders[key] = true
	}
	if len(orders) < 2 {
		t.Error("expected shuffle to produce more than one ordering across seeds")
	}
}
