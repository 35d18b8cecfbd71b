package pipeline

import (
	"context"
	"fmt"

	"github.com/routecc/rcc/core"
	"github.com/routecc/rcc/providers"
)

// ModelRewriteStep replaces the virtual model id with the provider-native
// model id before the adapter serializes the request
type ModelRewriteStep struct {
	NativeModel string
}

func (s *ModelRewriteStep) Name() string { return "model_rewrite" }

func (s *ModelRewriteStep) Apply(_ context.Context, _ *core.RequestContext, req *core.ChatRequest) (*core.ChatRequest, error) {
	out := *req
	out.Model = s.NativeModel
	return &out, nil
}

// TokenGuardStep rejects requests whose estimated prompt size exceeds the
// model's known input limit, saving a doomed upstream round trip. It only
// acts when a limit is actually known.
type TokenGuardStep struct {
	Models *providers.ModelTable
	Model  string
}

func (s *TokenGuardStep) Name() string { return "token_guard" }

func (s *TokenGuardStep) Apply(_ context.Context, _ *core.RequestContext, req *core.ChatRequest) (*core.ChatRequest, error) {
	m, ok := s.Models.Get(s.Model)
	if !ok {
		return nil, nil
	}
	limit := m.DetectedMaxTokens
	if limit == 0 {
		limit = m.DeclaredMaxTokens
	}
	if limit == 0 {
		return nil, nil
	}
	if est := estimateTokens(req); est > limit {
		return nil, fmt.Errorf("%w: estimated %d prompt tokens exceeds limit %d for %s",
			core.ErrTokenLimitExceeded, est, limit, s.Model)
	}
	return nil, nil
}

// estimateTokens approximates prompt size at four characters per token,
// which overestimates rarely enough to be a safe pre-flight check
func estimateTokens(req *core.ChatRequest) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Role) + len(m.Content)
	}
	return chars / 4
}

// BlacklistGuardStep refuses requests to models an operator has removed
// from service
type BlacklistGuardStep struct {
	Models *providers.ModelTable
	Model  string
}

func (s *BlacklistGuardStep) Name() string { return "blacklist_guard" }

func (s *BlacklistGuardStep) Apply(_ context.Context, _ *core.RequestContext, _ *core.ChatRequest) (*core.ChatRequest, error) {
	m, ok := s.Models.Get(s.Model)
	if ok && m.Blacklisted {
		return nil, fmt.Errorf("%w: model %s is blacklisted: %s",
			core.ErrNoAvailableTargets, s.Model, m.BlacklistReason)
	}
	return nil, nil
}
