package providers

import (
	"context"
	"strings"
)

// FixtureProvider is a deterministic Provider used by --dry-run and by
// tests that need byte-identical ledger output without real network
// calls (§8's replay-determinism property requires this).
type FixtureProvider struct {
	ProviderName string
	Model        string
	CostUSD      float64
	LatencyS     float64
	Fail         bool
	FailKind     FailureKind
}

// NewFixtureProvider builds a fixture adapter with reasonable
// defaults: a $0.001 nominal cost and a canned reply.
func NewFixtureProvider(name string) *FixtureProvider {
	return &FixtureProvider{
		ProviderName: name,
		Model:        "fixture-" + name,
		CostUSD:      0.001,
		LatencyS:     0.01,
	}
}

func (p *FixtureProvider) Name() string { return p.ProviderName }

func (p *FixtureProvider) CostPerRequest() float64 { return p.CostUSD }

// Chat echoes the last user message deterministically; it never
// consults real randomness or wall-clock state.
func (p *FixtureProvider) Chat(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, &Failure{Kind: FailureCancelled, Message: ctx.Err().Error()}
	default:
	}

	if p.Fail {
		kind := p.FailKind
		if kind == "" {
			kind = FailureUnavailable
		}
		return Response{}, &Failure{Kind: kind, Message: "fixture configured to fail"}
	}

	var last string
	for _, m := range req.Messages {
		if m.Role == "user" {
			last = m.Content
		}
	}

	tokensIn := len(strings.Fields(last))
	content := "fixture-reply: " + last

	return Response{
		Content:   content,
		Model:     p.Model,
		TokensIn:  tokensIn,
		TokensOut: len(strings.Fields(content)),
		CostUSD:   p.CostUSD,
		LatencyS:  p.LatencyS,
		Provider:  p.ProviderName,
	}, nil
}
