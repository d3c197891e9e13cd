// ABOUTME: HTTP client for the spreadsheet-backed CRM bridge.
// ABOUTME: Profile lookup pre-fills slots; leads and upserts flow out at checkout or handoff.

package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ProfileRecord mirrors one CRM row for a known contact.
type ProfileRecord struct {
	Phone        string   `json:"phone"`
	Name         string   `json:"name,omitempty"`
	Region       string   `json:"region,omitempty"`
	Subregion    string   `json:"subregion,omitempty"`
	Crops        []string `json:"crops,omitempty"`
	AreaHectares float64  `json:"area_hectares,omitempty"`
	Campaign     string   `json:"campaign,omitempty"`
}

// Lead is one checkout or handoff record appended to the CRM.
type Lead struct {
	Phone   string `json:"phone"`
	Name    string `json:"name,omitempty"`
	Status  string `json:"status"` // "checkout" or "handoff"
	Summary string `json:"summary,omitempty"`
}

// CRM is the spreadsheet collaborator contract.
type CRM interface {
	LookupProfile(ctx context.Context, phone string) (*ProfileRecord, error)
	UpsertProfile(ctx context.Context, record *ProfileRecord) error
	AppendLead(ctx context.Context, lead *Lead) (string, error)
}

// HTTPCRM talks to a configured webhook bridge (typically an Apps Script
// endpoint in front of the spreadsheet).
type HTTPCRM struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPCRM creates the bridge client.
func NewHTTPCRM(baseURL, token string, logger *slog.Logger) *HTTPCRM {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPCRM{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("component", "crm"),
	}
}

// LookupProfile returns the CRM record for phone, or nil when unknown.
func (c *HTTPCRM) LookupProfile(ctx context.Context, phone string) (*ProfileRecord, error) {
	u := fmt.Sprintf("%s/profiles?phone=%s", c.baseURL, url.QueryEscape(phone))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crm lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crm lookup: status %d", resp.StatusCode)
	}

	var record ProfileRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("crm lookup: decoding: %w", err)
	}
	if record.Phone == "" {
		record.Phone = phone
	}
	return &record, nil
}

// UpsertProfile writes the record back to the spreadsheet.
func (c *HTTPCRM) UpsertProfile(ctx context.Context, record *ProfileRecord) error {
	return c.post(ctx, "/profiles", record, nil)
}

// AppendLead appends a lead row and returns its id.
func (c *HTTPCRM) AppendLead(ctx context.Context, lead *Lead) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/leads", lead, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPCRM) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("crm %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("crm %s: status %d: %s", path, resp.StatusCode, string(detail))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("crm %s: decoding: %w", path, err)
		}
	}
	return nil
}

// DisabledCRM is used when no bridge is configured: lookups return
// nothing and writes are skipped.
type DisabledCRM struct{}

func (DisabledCRM) LookupProfile(context.Context, string) (*ProfileRecord, error) { return nil, nil }
func (DisabledCRM) UpsertProfile(context.Context, *ProfileRecord) error           { return nil }
func (DisabledCRM) AppendLead(context.Context, *Lead) (string, error)             { return "", nil }
