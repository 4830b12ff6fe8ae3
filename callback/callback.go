// Package callback delivers job progress and completion notifications to
// a caller-supplied URL, matching callback_client.py's CallbackClient:
// fixed-delay retry, a strict "only HTTP 200 counts as success" rule, and
// a dead-letter hook for completion callbacks that never land.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/artorize/gateway/core"
)

// errNonOKStatus marks a callback response that completed the round trip
// but didn't return 200, so operation can return a retryable error that
// backoff.Retry distinguishes from a permanent request-build failure.
var errNonOKStatus = errors.New("callback endpoint returned non-200 status")

// Client sends progress and completion callbacks over HTTP.
type Client struct {
	httpClient    *http.Client
	retryAttempts int
	retryDelay    time.Duration
	logger        core.Logger
	deadLetter    func(payload any)
}

// New builds a Client. logger may be nil; deadLetter, if non-nil, is
// invoked with completion payloads that exhaust every retry attempt.
func New(timeout time.Duration, retryAttempts int, retryDelay time.Duration, logger core.Logger, deadLetter func(payload any)) *Client {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
		logger:        logger,
		deadLetter:    deadLetter,
	}
}

// SendCompletion posts the completion payload, storing it via the
// dead-letter hook if every retry fails, matching
// send_completion_callback.
func (c *Client) SendCompletion(ctx context.Context, url, authToken string, payload any) bool {
	return c.send(ctx, url, authToken, payload, true)
}

// SendProgress posts a progress payload; unlike completion callbacks, a
// fully exhausted progress callback is not dead-lettered, matching
// send_progress_callback.
func (c *Client) SendProgress(ctx context.Context, url, authToken string, payload any) bool {
	return c.send(ctx, url, authToken, payload, false)
}

// send delivers payload with a fixed delay between attempts via
// cenkalti/backoff's ConstantBackOff, matching the original's
// fixed-delay retry policy for callback delivery (as opposed to the
// exponential backoff backendupload.Client uses for the backend-upload
// path). Only HTTP 200 counts as success; everything else, transport
// error or otherwise, is retried until retryAttempts is exhausted.
func (c *Client) send(ctx context.Context, url, authToken string, payload any, deadLetterOnExhaust bool) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logf("callback marshal failed: %v", err)
		return false
	}

	attempt := 0
	operation := func() error {
		attempt++
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if reqErr != nil {
			return backoff.Permanent(fmt.Errorf("callback request build failed: %w", reqErr))
		}
		req.Header.Set("Content-Type", "application/json")
		if authToken != "" {
			req.Header.Set("Authorization", "Bearer "+authToken)
		}

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			c.logf("callback attempt %d failed: %v", attempt, doErr)
			return doErr
		}
		status := resp.StatusCode
		resp.Body.Close()
		if status == http.StatusOK {
			return nil
		}
		c.logf("callback attempt %d got status %d", attempt, status)
		return fmt.Errorf("%w: %d", errNonOKStatus, status)
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.retryAttempts-1))
	if retryErr := backoff.Retry(operation, backoff.WithContext(b, ctx)); retryErr != nil {
		if deadLetterOnExhaust {
			c.storeFailed(payload)
		}
		return false
	}
	return true
}

func (c *Client) storeFailed(payload any) {
	if c.deadLetter != nil {
		c.deadLetter(payload)
	} else {
		c.logf("failed callback dropped, no dead-letter sink configured: %v", payload)
	}
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(fmt.Sprintf(format, args...))
	}
}
