package gwconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// providerSummary is a stable fingerprint of a provider's routing-relevant
// fields, used to describe what changed across a reload without diffing
// every field by hand.
type providerSummary struct {
	hash    string
	enabled bool
}

func summarizeProviders(providers []ProviderConfig) map[string]providerSummary {
	out := make(map[string]providerSummary, len(providers))
	for i := range providers {
		p := &providers[i]
		key := strings.ToLower(p.Name)
		normalized := strings.Join([]string{
			p.BaseURL,
			fmt.Sprintf("%d", p.Priority),
			strings.Join(p.Models, ","),
			p.ModelsEndpoint,
		}, "|")
		sum := sha256.Sum256([]byte(normalized))
		out[key] = providerSummary{hash: hex.EncodeToString(sum[:]), enabled: p.IsEnabled()}
	}
	return out
}

// DiffProviders compares two provider lists and returns a human-readable
// changelog plus the set of provider names whose runtime state must be
// rebuilt, mirroring the teacher's oauth-model-mappings reload diff.
func DiffProviders(oldProviders, newProviders []ProviderConfig) (changes []string, affected []string) {
	oldSummary := summarizeProviders(oldProviders)
	newSummary := summarizeProviders(newProviders)

	keys := make(map[string]struct{}, len(oldSummary)+len(newSummary))
	for k := range oldSummary {
		keys[k] = struct{}{}
	}
	for k := range newSummary {
		keys[k] = struct{}{}
	}

	for key := range keys {
		oldInfo, okOld := oldSummary[key]
		newInfo, okNew := newSummary[key]
		switch {
		case okOld && !okNew:
			changes = append(changes, fmt.Sprintf("provider[%s]: removed", key))
			affected = append(affected, key)
		case !okOld && okNew:
			changes = append(changes, fmt.Sprintf("provider[%s]: added", key))
			affected = append(affected, key)
		case okOld && okNew && (oldInfo.hash != newInfo.hash || oldInfo.enabled != newInfo.enabled):
			changes = append(changes, fmt.Sprintf("provider[%s]: updated", key))
			affected = append(affected, key)
		}
	}
	sort.Strings(changes)
	sort.Strings(affected)
	return changes, affected
}
