// Package records is the read-only client for the business-records
// service: requirements, vendor cards, and the contact-log linkage that
// ties conversations to them. The attribution engine consumes it through
// the threads collaborator interfaces and never writes back.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/threads"
)

// Client talks to the records service over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a records client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

var (
	_ threads.LinkageSource = (*Client)(nil)
	_ threads.Directory     = (*Client)(nil)
)

// ConversationIDs lists conversation ids recorded against an entity by
// prior contact logs.
func (c *Client) ConversationIDs(ctx context.Context, kind threads.EntityKind, id int64) ([]string, error) {
	var result struct {
		ConversationIDs []string `json:"conversation_ids"`
	}
	path := fmt.Sprintf("/api/%ss/%d/conversations", url.PathEscape(string(kind)), id)
	if err := c.getJSON(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.ConversationIDs, nil
}

// Requirement fetches one requirement record; nil when it does not exist.
func (c *Client) Requirement(ctx context.Context, id int64) (*threads.Requirement, error) {
	var result struct {
		ID         int64  `json:"id"`
		PartNumber string `json:"part_number"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/requirements/%d", id), &result); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &threads.Requirement{ID: result.ID, PartNumber: result.PartNumber}, nil
}

// Vendor fetches one vendor card; nil when it does not exist.
func (c *Client) Vendor(ctx context.Context, id int64) (*threads.Vendor, error) {
	var result struct {
		ID            int64    `json:"id"`
		Domain        string   `json:"domain"`
		DomainAliases []string `json:"domain_aliases"`
		ContactEmails []string `json:"contact_emails"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/vendors/%d", id), &result); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &threads.Vendor{
		ID:            result.ID,
		Domain:        result.Domain,
		DomainAliases: result.DomainAliases,
		ContactEmails: result.ContactEmails,
	}, nil
}

// RequirementVendorDomains lists candidate vendor domains recorded
// against a requirement via sightings and vendor-card links.
func (c *Client) RequirementVendorDomains(ctx context.Context, id int64) ([]string, error) {
	var result struct {
		Domains []string `json:"domains"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/requirements/%d/vendor-domains", id), &result); err != nil {
		return nil, err
	}
	return result.Domains, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("records: bad status %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusNotFound
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &statusError{status: resp.StatusCode, body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
