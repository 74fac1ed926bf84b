package vision

import "context"

// Passthrough is the fixed-verdict stub backend used by tests: it always
// returns a "watching" envelope without performing any I/O.
type Passthrough struct {
	// Replies, if set, overrides the default watching envelope — tests can
	// script a sequence of replies across calls.
	Replies []string
	calls   int
}

// NewPassthrough returns a Passthrough with the default fixed reply.
func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

func (p *Passthrough) Evaluate(_ context.Context, _ string, _ [][]byte) (string, error) {
	if p.calls < len(p.Replies) {
		r := p.Replies[p.calls]
		p.calls++
		return r, nil
	}
	p.calls++
	return `FINAL_JSON: {"decision": "watching", "confidence": 0, "evidence": [], "summary": "passthrough stub"}`, nil
}

func (p *Passthrough) Health(_ context.Context) Health {
	return Health{OK: true, Details: map[string]string{"backend": "passthrough"}}
}
