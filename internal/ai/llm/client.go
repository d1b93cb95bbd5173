package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// NewClient returns a JSON HTTP client rooted at baseURL. Retries are left to
// the caller so that one batch is never sent more times than its policy allows.
func NewClient(baseURL string, timeout time.Duration) *resty.Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return c
}

// PostJSON sends body to path and decodes a successful response into out.
// Transport failures and error statuses come back as *Error.
func PostJSON(ctx context.Context, provider string, req *resty.Request, path string, body, out any) error {
	resp, err := req.SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return Fatal(provider, err)
		}
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return Transient(provider, fmt.Errorf("%w: %v", ErrInferenceTimeout, err))
		}
		return Transient(provider, fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
	}
	if !resp.IsSuccess() {
		return FromStatus(provider, resp.StatusCode(), resp.Body())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return Fatal(provider, fmt.Errorf("%w: decode envelope: %v", ErrInvalidResponse, err))
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
