package forum

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPClient talks to the forum moderation gateway with form-encoded POSTs.
type HTTPClient struct {
	baseURL    string
	credential string
	httpClient *http.Client
}

type envelope struct {
	ErrorCode json.Number `json:"error_code"`
	ErrorMsg  string      `json:"error_msg"`
}

func NewHTTPClient(baseURL, credential string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) DeleteThread(ctx context.Context, forumID, threadID int64) (bool, error) {
	form := url.Values{}
	form.Set("fid", strconv.FormatInt(forumID, 10))
	form.Set("tid", strconv.FormatInt(threadID, 10))
	return c.call(ctx, "/thread/delete", form)
}

func (c *HTTPClient) DeletePost(ctx context.Context, forumID, threadID, postID int64) (bool, error) {
	form := url.Values{}
	form.Set("fid", strconv.FormatInt(forumID, 10))
	form.Set("tid", strconv.FormatInt(threadID, 10))
	form.Set("pid", strconv.FormatInt(postID, 10))
	return c.call(ctx, "/post/delete", form)
}

func (c *HTTPClient) Ban(ctx context.Context, forumID int64, author Author, days int) (bool, error) {
	form := url.Values{}
	form.Set("fid", strconv.FormatInt(forumID, 10))
	form.Set("user_id", strconv.FormatInt(author.UserID, 10))
	form.Set("portrait", author.Portrait)
	form.Set("day", strconv.Itoa(days))
	return c.call(ctx, "/user/block", form)
}

func (c *HTTPClient) call(ctx context.Context, path string, form url.Values) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return false, &APIError{Code: CodeServerBusy, Msg: resp.Status}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	code, err := env.ErrorCode.Int64()
	if err != nil && env.ErrorCode != "" {
		return false, fmt.Errorf("failed to parse error code %q: %w", env.ErrorCode, err)
	}
	if code != 0 {
		return false, &APIError{Code: int(code), Msg: env.ErrorMsg}
	}
	return true, nil
}
