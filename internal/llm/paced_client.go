package llm

import (
	"context"
	"sync"
	"time"
)

const (
	defaultResponseTokenEstimate = 512
	minTokenEstimate             = 8

	// DefaultPacingInterval is the minimum spacing between consecutive
	// gateway calls when pacing is enabled.
	DefaultPacingInterval = time.Second
)

// pacedClient wraps another Client and enforces a minimum interval between
// calls plus an optional tokens-per-minute budget. It keeps concurrent
// sessions from hammering a provider's rate limits.
type pacedClient struct {
	delegate     Client
	interval     time.Duration
	mu           sync.Mutex
	nextAllowed  time.Time
	tokenMu      sync.Mutex
	nextToken    time.Time
	tokensPerMin int
}

// NewPacedClient returns a Client that spaces calls at least interval apart
// and throttles by token budget when tokensPerMinute is positive. A base
// client with no limits configured is returned unchanged.
func NewPacedClient(base Client, interval time.Duration, tokensPerMinute int) Client {
	if base == nil {
		return base
	}
	if interval <= 0 && tokensPerMinute <= 0 {
		return base
	}
	client := &pacedClient{
		delegate: base,
		interval: interval,
	}
	if tokensPerMinute > 0 {
		client.tokensPerMin = tokensPerMinute
	}
	return client
}

func (c *pacedClient) wait(ctx context.Context, tokens int) error {
	if err := c.waitInterval(ctx); err != nil {
		return err
	}
	return c.waitTokens(ctx, tokens)
}

func (c *pacedClient) waitInterval(ctx context.Context) error {
	if c.interval <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		c.mu.Lock()
		now := time.Now()
		if c.nextAllowed.IsZero() || !now.Before(c.nextAllowed) {
			c.nextAllowed = now.Add(c.interval)
			c.mu.Unlock()
			return nil
		}

		wait := time.Until(c.nextAllowed)
		c.mu.Unlock()

		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *pacedClient) waitTokens(ctx context.Context, tokens int) error {
	if c.tokensPerMin <= 0 || tokens <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	delay := tokensToDuration(tokens, c.tokensPerMin)

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	start := time.Now()
	if c.nextToken.Before(start) {
		c.nextToken = start
	}
	waitUntil := c.nextToken
	c.nextToken = c.nextToken.Add(delay)

	if waitUntil.After(start) {
		timer := time.NewTimer(waitUntil.Sub(start))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (c *pacedClient) Complete(ctx context.Context, prompt string) (string, error) {
	tokens := estimateTokensForPrompt(c.delegate.GetModelName(), prompt)
	if err := c.wait(ctx, tokens); err != nil {
		return "", err
	}
	return c.delegate.Complete(ctx, prompt)
}

func (c *pacedClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	tokens := estimateTokensForBudget(c.delegate.GetModelName(), req)
	if err := c.wait(ctx, tokens); err != nil {
		return nil, err
	}
	return c.delegate.CompleteWithRequest(ctx, req)
}

func (c *pacedClient) Stream(ctx context.Context, req *CompletionRequest, callback func(chunk string) error) error {
	tokens := estimateTokensForBudget(c.delegate.GetModelName(), req)
	if err := c.wait(ctx, tokens); err != nil {
		return err
	}
	return c.delegate.Stream(ctx, req, callback)
}

func (c *pacedClient) GetModelName() string {
	return c.delegate.GetModelName()
}

func estimateTokensForPrompt(model, prompt string) int {
	estimated := EstimatePromptTokens(model, prompt)
	if estimated < minTokenEstimate {
		estimated = minTokenEstimate
	}
	return estimated + defaultResponseTokenEstimate
}

func estimateTokensForBudget(model string, req *CompletionRequest) int {
	if req == nil {
		return defaultResponseTokenEstimate
	}

	tokens := EstimateRequestTokens(model, req)
	if tokens < minTokenEstimate {
		tokens = minTokenEstimate
	}

	if req.MaxTokens > 0 {
		tokens += req.MaxTokens
	} else {
		tokens += defaultResponseTokenEstimate
	}
	return tokens
}

func tokensToDuration(tokens, tokensPerMinute int) time.Duration {
	if tokensPerMinute <= 0 || tokens <= 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) * float64(tokens) / float64(tokensPerMinute))
}
