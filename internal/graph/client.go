package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultTimeout = 15 * time.Second
	maxAttempts    = 3
)

// Query carries the structured options of a listing/search call.
// Zero fields are omitted from the request.
type Query struct {
	Search  string   // free-text search, sent quoted
	Filter  string   // structured field filter
	OrderBy string
	Select  []string
}

// Client is a paginated HTTP client for the mailbox provider's REST API.
// It follows server-supplied next-page links, retries transient failures
// with exponential backoff, and never interprets continuation tokens.
type Client struct {
	base string
	http *http.Client

	// Backoff is the base delay between retry attempts, doubled per
	// attempt. Exposed so tests can shrink it.
	Backoff time.Duration
}

// NewClient builds a client for the given API base URL. Bearer tokens
// come from src on every request.
func NewClient(baseURL string, src oauth2.TokenSource) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: &oauth2.Transport{Source: src},
		},
		Backoff: 500 * time.Millisecond,
	}
}

// FetchAll retrieves up to maxItems messages from a listing/search
// endpoint, following pagination links. maxItems is a hard cap;
// pageSizeHint is only a request-size hint for the server.
func (c *Client) FetchAll(ctx context.Context, path string, q Query, pageSizeHint, maxItems int) ([]Message, error) {
	next := c.buildURL(path, q, pageSizeHint)

	var out []Message
	for next != "" {
		page, err := c.getMessagePage(ctx, next)
		if err != nil {
			return nil, err
		}

		for _, w := range page.Value {
			out = append(out, normalize(w))
			if maxItems > 0 && len(out) >= maxItems {
				return out, nil
			}
		}

		next = page.NextLink
	}

	return out, nil
}

// FetchDelta retrieves changes since the given continuation token, or
// starts a fresh delta round when token is empty. It returns the fetched
// messages plus the new continuation token ("" when the server did not
// produce one). When the server reports the token as expired the returned
// error matches ErrSyncStateExpired.
//
// The token is opaque: it is whatever continuation link the server handed
// out last time, stored and replayed verbatim.
func (c *Client) FetchDelta(ctx context.Context, path, token string, q Query, maxItems int) ([]Message, string, error) {
	next := token
	if next == "" {
		next = c.buildURL(path, q, 0)
	}

	var out []Message
	for next != "" {
		pageURL := next
		page, err := c.getMessagePage(ctx, next)
		if err != nil {
			return nil, "", fmt.Errorf("delta fetch: %w", err)
		}

		for i, w := range page.Value {
			out = append(out, normalize(w))
			if maxItems > 0 && len(out) >= maxItems {
				if i < len(page.Value)-1 {
					// The cap landed mid-page. Hand back this page's own
					// URL so the next run re-fetches it; advancing to the
					// next-page link would skip the unconsumed tail for
					// good. The marker ledger absorbs the replayed head.
					return out, pageURL, nil
				}
				if page.NextLink != "" {
					return out, page.NextLink, nil
				}
				return out, page.DeltaLink, nil
			}
		}

		if page.DeltaLink != "" {
			return out, page.DeltaLink, nil
		}
		next = page.NextLink
	}

	return out, "", nil
}

// ConversationMessages fetches every message of one conversation,
// oldest first.
func (c *Client) ConversationMessages(ctx context.Context, userID, conversationID string) ([]Message, error) {
	q := Query{
		Filter:  fmt.Sprintf("conversationId eq '%s'", escapeODataLiteral(conversationID)),
		OrderBy: "receivedDateTime asc",
		Select:  MessageFields,
	}
	return c.FetchAll(ctx, fmt.Sprintf("/users/%s/messages", url.PathEscape(userID)), q, 50, 0)
}

// ListAttachments lists attachment metadata for one message.
func (c *Client) ListAttachments(ctx context.Context, userID, messageID string) ([]Attachment, error) {
	next := c.base + fmt.Sprintf("/users/%s/messages/%s/attachments?$select=id,name,contentType,size",
		url.PathEscape(userID), url.PathEscape(messageID))

	var out []Attachment
	for next != "" {
		body, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}

		var page attachmentPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode attachment page: %w", err)
		}

		for _, a := range page.Value {
			out = append(out, Attachment{ID: a.ID, Name: a.Name, ContentType: a.ContentType, Size: a.Size})
		}
		next = page.NextLink
	}

	return out, nil
}

// DownloadAttachment fetches the raw bytes of one attachment.
func (c *Client) DownloadAttachment(ctx context.Context, userID, messageID, attachmentID string) ([]byte, error) {
	u := c.base + fmt.Sprintf("/users/%s/messages/%s/attachments/%s/$value",
		url.PathEscape(userID), url.PathEscape(messageID), url.PathEscape(attachmentID))
	return c.get(ctx, u)
}

// MessageFields is the field selection used for message listings.
var MessageFields = []string{
	"id", "conversationId", "subject", "from", "toRecipients",
	"ccRecipients", "bccRecipients", "bodyPreview", "receivedDateTime",
	"hasAttachments",
}

func (c *Client) buildURL(path string, q Query, pageSizeHint int) string {
	v := url.Values{}
	if q.Search != "" {
		v.Set("$search", `"`+q.Search+`"`)
	}
	if q.Filter != "" {
		v.Set("$filter", q.Filter)
	}
	if q.OrderBy != "" {
		v.Set("$orderby", q.OrderBy)
	}
	if len(q.Select) > 0 {
		v.Set("$select", strings.Join(q.Select, ","))
	}
	if pageSizeHint > 0 {
		v.Set("$top", strconv.Itoa(pageSizeHint))
	}

	u := c.base + "/" + strings.TrimLeft(path, "/")
	if enc := v.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func (c *Client) getMessagePage(ctx context.Context, u string) (*messagePage, error) {
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var page messagePage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode message page: %w", err)
	}
	return &page, nil
}

// get performs one GET with bounded retry on transient failures.
// Non-transient API errors come back as *APIError, or as
// ErrSyncStateExpired when the provider reports a dead delta token.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.Backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if readErr != nil {
				lastErr = readErr
				continue
			}
			return body, nil
		}

		apiErr := decodeAPIError(resp.StatusCode, body)
		if isSyncStateCode(apiErr.Code) {
			return nil, fmt.Errorf("%s: %w", apiErr.Code, ErrSyncStateExpired)
		}
		if !retryable(resp.StatusCode) {
			return nil, apiErr
		}
		lastErr = apiErr
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

func decodeAPIError(status int, body []byte) *APIError {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Code != "" {
		return &APIError{StatusCode: status, Code: env.Error.Code, Message: env.Error.Message}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

func escapeODataLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
