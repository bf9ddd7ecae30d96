package adapters

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"civicsync/internal/fault"
	"civicsync/internal/models"
)

// CKAN data types (legislative vertical).
const (
	DataLegislators = "legislators"
	DataBills       = "bills"
	DataVotes       = "votes"
	DataSessions    = "sessions"
)

// CKANAdapter reads public open-data portals. Resources mapped to a datastore
// id go through the datastore_search action API; resources ending in .csv are
// fetched as raw CSV files and re-encoded into the same envelope. No token, no
// change notifications: the portal is polled.
type CKANAdapter struct {
	BaseURL   string
	Resources map[string]string // data type -> resource id

	client *http.Client
}

func NewCKANAdapter(baseURL string, resources map[string]string) *CKANAdapter {
	return &CKANAdapter{
		BaseURL:   baseURL,
		Resources: resources,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *CKANAdapter) Source() string { return "ckan" }

func (a *CKANAdapter) DataTypes() []string {
	types := make([]string, 0, len(a.Resources))
	for _, t := range []string{DataLegislators, DataBills, DataVotes, DataSessions} {
		if _, ok := a.Resources[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

func (a *CKANAdapter) Fetch(ctx context.Context, conn *models.Connection, dataType string) (*RawPayload, error) {
	resource, ok := a.Resources[dataType]
	if !ok {
		return nil, fault.New(fault.KindSchema, "no ckan resource for data type "+dataType)
	}
	if strings.HasSuffix(strings.ToLower(resource), ".csv") {
		return a.fetchCSV(ctx, resource, dataType)
	}

	q := url.Values{}
	q.Set("resource_id", resource)
	q.Set("limit", "10000")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.BaseURL+"/api/3/action/datastore_search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "ckan fetch failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fault.New(fault.KindTransient, fmt.Sprintf("ckan returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fault.New(fault.KindSchema, fmt.Sprintf("ckan returned %d for %s", resp.StatusCode, dataType))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "read ckan body", err)
	}

	return &RawPayload{
		Source:    a.Source(),
		DataType:  dataType,
		SourceKey: fmt.Sprintf("ckan:%s:%s", resource, dataType),
		Body:      body,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// fetchCSV downloads a CSV resource and re-encodes its rows as a
// datastore_search response so both portal formats normalize through one
// path. Cells stay strings; the normalizer coerces numeric fields.
func (a *CKANAdapter) fetchCSV(ctx context.Context, resource, dataType string) (*RawPayload, error) {
	u := resource
	if !strings.Contains(u, "://") {
		u = a.BaseURL + "/" + strings.TrimLeft(resource, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "ckan csv fetch failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fault.New(fault.KindTransient, fmt.Sprintf("ckan returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fault.New(fault.KindSchema, fmt.Sprintf("ckan returned %d for %s", resp.StatusCode, dataType))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "read ckan csv body", err)
	}

	encoded, err := csvToRecords(body)
	if err != nil {
		return nil, err
	}

	return &RawPayload{
		Source:    a.Source(),
		DataType:  dataType,
		SourceKey: fmt.Sprintf("ckan:%s:%s", resource, dataType),
		Body:      encoded,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// csvToRecords turns header-keyed CSV rows into the datastore_search
// envelope. Rows must match the header width; csv.Reader enforces that.
func csvToRecords(data []byte) ([]byte, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fault.Wrap(fault.KindSchema, "malformed ckan csv", err)
	}
	if len(rows) == 0 {
		return nil, fault.New(fault.KindSchema, "ckan csv resource has no header")
	}

	header := rows[0]
	records := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(header))
		for i, col := range header {
			rec[strings.TrimSpace(col)] = row[i]
		}
		records = append(records, rec)
	}

	return json.Marshal(map[string]interface{}{
		"success": true,
		"result":  map[string]interface{}{"records": records},
	})
}

// RegisterChangeNotifications is a no-op for polled public portals.
func (a *CKANAdapter) RegisterChangeNotifications(ctx context.Context, conn *models.Connection, callbackBase string) ([]string, error) {
	return nil, nil
}
