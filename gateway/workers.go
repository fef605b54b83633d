/*
Logic:       Declares the fixed set of worker descriptors this
             deployment ships with, covering every task_type the Chat and
             Search workflows select against.
Root Cause:  Spec §4.3 step 1 "task_type -> default_worker mapping"
             presupposes a populated registry; a real deployment would
             source these from config/service discovery, but this
             orchestrator has no bundled provider-catalog service
             (SPEC_FULL.md §12 Non-goals).
Context:     Grounded on registry/registry_test.go's Register call shape;
             endpoint transport details are left to workers.EndpointBook,
             populated from environment-specific config rather than
             hardcoded here.
*/
package gateway

import "github.com/vantage-ai/orchestrator/registry"

func registerDeclaredWorkers(reg *registry.Registry) {
	reg.Register(&registry.Descriptor{
		ID:             "local-classifier",
		Kind:           registry.KindLocalInference,
		Warmth:         registry.T0,
		Health:         registry.HealthReady,
		FootprintBytes: 2 << 30,
		CostPerUnit:    0,
		Capabilities:   capSet("classification"),
	})
	reg.Register(&registry.Descriptor{
		ID:             "remote-chat-small",
		Kind:           registry.KindRemoteInference,
		Warmth:         registry.T1,
		Health:         registry.HealthReady,
		FootprintBytes: 0,
		CostPerUnit:    0.0005,
		Capabilities:   capSet("chat", "qa", "instruction_following"),
		FallbackID:     "remote-chat-large",
	})
	reg.Register(&registry.Descriptor{
		ID:             "remote-chat-large",
		Kind:           registry.KindRemoteInference,
		Warmth:         registry.T2,
		Health:         registry.HealthReady,
		FootprintBytes: 0,
		CostPerUnit:    0.003,
		Capabilities:   capSet("chat", "qa", "code_generation", "instruction_following", "synthesis"),
	})
	reg.Register(&registry.Descriptor{
		ID:             "web-search-default",
		Kind:           registry.KindWebSearch,
		Warmth:         registry.T1,
		Health:         registry.HealthReady,
		CostPerUnit:    0.001,
		Capabilities:   capSet("web_search"),
	})
	reg.Register(&registry.Descriptor{
		ID:             "scraper-default",
		Kind:           registry.KindScraper,
		Warmth:         registry.T2,
		Health:         registry.HealthReady,
		CostPerUnit:    0.0002,
		Capabilities:   capSet("scrape"),
	})
}

func capSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}
