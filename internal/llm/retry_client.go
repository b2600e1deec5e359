package llm

import (
	"context"

	sharederrors "codeframe/internal/shared/errors"
	"codeframe/internal/shared/logging"
)

// retryClient wraps a Provider with the standard transient-error retry
// policy. Permanent errors and context-window errors pass through.
type retryClient struct {
	inner  Provider
	config sharederrors.RetryConfig
	logger logging.Logger
}

// NewRetryClient wraps inner with exponential-backoff retries on transient
// failures.
func NewRetryClient(inner Provider, logger logging.Logger) Provider {
	return &retryClient{
		inner:  inner,
		config: sharederrors.DefaultRetryConfig(),
		logger: logging.OrNop(logger),
	}
}

func (c *retryClient) Model() string { return c.inner.Model() }

func (c *retryClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return sharederrors.RetryWithResultAndLog(ctx, c.config,
		func(ctx context.Context) (*CompletionResponse, error) {
			return c.inner.Complete(ctx, req)
		}, c.logger)
}
