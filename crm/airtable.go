package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"basecamp/types"
)

// ErrRateLimited is returned when Airtable rejects a request with HTTP 429.
// Callers treat it as retryable.
var ErrRateLimited = errors.New("airtable rate limit exceeded")

// ErrNotFound is returned when a record id no longer exists in the base.
var ErrNotFound = errors.New("airtable record not found")

// requestSpacing keeps well under Airtable's 5 requests/second limit.
const requestSpacing = 200 * time.Millisecond

// Airtable syncs enriched leads into a CRM base over the Airtable REST API.
// Sync is best effort and strictly post-verdict: a CRM outage never affects
// intake or classification.
type Airtable struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// AirtableConfig holds connection settings for one base and table. Endpoint
// overrides the API host, for proxies; empty selects api.airtable.com.
type AirtableConfig struct {
	APIKey    string
	BaseID    string
	TableName string
	Endpoint  string
}

// NewAirtable creates a client for the configured base and table.
func NewAirtable(cfg AirtableConfig) *Airtable {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.airtable.com"
	}
	return &Airtable{
		baseURL:    fmt.Sprintf("%s/v0/%s/%s", endpoint, cfg.BaseID, url.PathEscape(cfg.TableName)),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// leadFields maps a lead onto the CRM columns.
func leadFields(lead *types.Lead) map[string]any {
	fields := map[string]any{
		"Lead ID":     lead.ID,
		"Message":     lead.Message,
		"Status":      string(lead.Status),
		"Received At": lead.ReceivedAt.UTC().Format(time.RFC3339),
	}
	if lead.Contact.Name != "" {
		fields["Name"] = lead.Contact.Name
	}
	if lead.Contact.Email != "" {
		fields["Email"] = lead.Contact.Email
	}
	if lead.Contact.Phone != "" {
		fields["Phone"] = lead.Contact.Phone
	}
	if lead.Contact.Company != "" {
		fields["Company"] = lead.Contact.Company
	}
	if lead.Source != "" {
		fields["Source"] = lead.Source
	}
	if lead.Classification != "" {
		fields["Classification"] = lead.Classification
	}
	if lead.Analysis != nil {
		fields["Intent"] = lead.Analysis.Intent
		fields["Urgency"] = lead.Analysis.Urgency
		fields["Quality Score"] = lead.Analysis.QualityScore
		if lead.Analysis.Reasoning != "" {
			fields["Summary"] = lead.Analysis.Reasoning
		}
	}
	return fields
}

func (a *Airtable) throttle() {
	a.mu.Lock()
	wait := requestSpacing - time.Since(a.lastRequest)
	if wait > 0 {
		time.Sleep(wait)
	}
	a.lastRequest = time.Now()
	a.mu.Unlock()
}

func (a *Airtable) do(ctx context.Context, method, url string, payload any) (map[string]any, error) {
	a.throttle()

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("airtable request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("airtable error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse airtable response: %w", err)
	}
	return result, nil
}

// SyncLead creates a CRM record for the lead and returns its record id.
func (a *Airtable) SyncLead(ctx context.Context, lead *types.Lead) (string, error) {
	payload := map[string]any{
		"fields":   leadFields(lead),
		"typecast": true,
	}
	result, err := a.do(ctx, http.MethodPost, a.baseURL, payload)
	if err != nil {
		return "", err
	}
	id, ok := result["id"].(string)
	if !ok {
		return "", errors.New("airtable create response missing record id")
	}
	return id, nil
}

// UpdateLead refreshes the CRM record previously created for the lead.
func (a *Airtable) UpdateLead(ctx context.Context, recordID string, lead *types.Lead) error {
	payload := map[string]any{
		"fields":   leadFields(lead),
		"typecast": true,
	}
	_, err := a.do(ctx, http.MethodPatch, a.baseURL+"/"+recordID, payload)
	return err
}

// DeleteLead removes the CRM record. Deleting an already-absent record is
// not an error.
func (a *Airtable) DeleteLead(ctx context.Context, recordID string) error {
	_, err := a.do(ctx, http.MethodDelete, a.baseURL+"/"+recordID, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Health verifies the base and credentials with a single-record read.
func (a *Airtable) Health(ctx context.Context) error {
	_, err := a.do(ctx, http.MethodGet, a.baseURL+"?maxRecords=1", nil)
	return err
}
