/*
Logic:       Deny-list content policy check run against a generated
             response before it is returned to the caller.
Root Cause:  Spec §4.5 Chat workflow: "response_generator has a
             conditional edge to an error_handler node when the returned
             text is empty or fails a content policy check."
Context:     The request-context-in/evaluation-result-out shape follows
             the general policy-check idiom in the pack (e.g. the
             SWARM-INTELLIGENCE-NETWORK policy-service's OPAEngine.
             Evaluate), without that engine's open-policy-agent/opa
             dependency: this orchestrator needs only a fixed deny-list
             substring check, not compiled Rego policy evaluation — see
             DESIGN.md for the stdlib-only justification.
*/
package policy

import (
	"strings"
	"sync"
	"time"
)

// Verdict is the outcome of one content policy evaluation.
type Verdict struct {
	Allowed   bool
	Reason    string
	Evaluated time.Time
}

// ContentChecker evaluates generated text against a deny-list of terms.
// Real governance rules (PII leakage, jailbreak detection) are out of
// scope for the core; this is the narrow contract C5 needs to route a
// response to error_handler.
type ContentChecker struct {
	mu       sync.RWMutex
	denylist []string
	log      []Verdict
}

func NewContentChecker(denylist []string) *ContentChecker {
	lowered := make([]string, len(denylist))
	for i, term := range denylist {
		lowered[i] = strings.ToLower(term)
	}
	return &ContentChecker{denylist: lowered}
}

// Check evaluates text, recording the verdict for later audit.
func (c *ContentChecker) Check(text string) Verdict {
	v := Verdict{Allowed: true, Evaluated: time.Now()}
	if strings.TrimSpace(text) == "" {
		v.Allowed = false
		v.Reason = "empty response"
	} else {
		lower := strings.ToLower(text)
		c.mu.RLock()
		for _, term := range c.denylist {
			if term != "" && strings.Contains(lower, term) {
				v.Allowed = false
				v.Reason = "matched denylist term"
				break
			}
		}
		c.mu.RUnlock()
	}

	c.mu.Lock()
	c.log = append(c.log, v)
	if len(c.log) > 1000 {
		c.log = c.log[len(c.log)-1000:]
	}
	c.mu.Unlock()
	return v
}

// RecentVerdicts returns the most recent evaluations, newest last.
func (c *ContentChecker) RecentVerdicts() []Verdict {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Verdict, len(c.log))
	copy(out, c.log)
	return out
}
