package teg

import (
	"slices"

	"github.com/timewave-computer/causality-sub006/internal/ids"
)

// RequiredCapabilities derives the capabilities needed to execute effect:
// "<T>.<effect_type>" for each accessed resource of type T, plus the
// effect's explicit Capability. The result has no duplicates and is sorted
// by bytes. Accessed resources missing from resources are skipped.
func RequiredCapabilities(effect *EffectNode, resources map[ids.ResourceID]*ResourceNode) []string {
	caps := []string{}
	for _, id := range effect.ResourcesAccessed() {
		r, ok := resources[id]
		if !ok {
			continue
		}
		caps = append(caps, r.ResourceType+"."+effect.EffectType)
	}
	if effect.Capability != "" {
		caps = append(caps, effect.Capability)
	}
	slices.Sort(caps)
	return slices.Compact(caps)
}

// MissingCapabilities returns the required capabilities of the effect with
// id that are not in its capability authorizations, sorted by bytes.
func (g *Graph) MissingCapabilities(id ids.EffectID) []string {
	e, ok := g.Effects[id]
	if !ok {
		return nil
	}
	granted := g.CapabilityAuthorizations[id]
	missing := []string{}
	for _, c := range RequiredCapabilities(e, g.Resources) {
		if !slices.Contains(granted, c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// deriveCapabilities refreshes every effect's RequiredCapabilities.
func (g *Graph) deriveCapabilities() {
	for _, e := range g.Effects {
		e.RequiredCapabilities = RequiredCapabilities(e, g.Resources)
	}
}

// normalizeCaps sorts caps and drops duplicates and empty names.
func normalizeCaps(caps []string) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c != "" {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
