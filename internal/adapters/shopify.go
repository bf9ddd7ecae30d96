package adapters

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
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

const shopifyAPIVersion = "2024-01"

// Shopify data types.
const (
	DataProducts  = "products"
	DataOrders    = "orders"
	DataInventory = "inventory"
)

// Webhook topics registered on connect.
var shopifyTopics = []string{"products/update", "orders/create", "app/uninstalled"}

// ShopifyAdapter drives the OAuth handshake and the admin REST fetches.
// endpoint is swappable so tests can point a shop domain at a local server.
type ShopifyAdapter struct {
	ClientID     string
	ClientSecret string
	Scopes       string
	AppBaseURL   string

	client   *http.Client
	endpoint func(shop string) string
}

func NewShopifyAdapter(clientID, clientSecret, scopes, appBaseURL string) *ShopifyAdapter {
	return &ShopifyAdapter{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       scopes,
		AppBaseURL:   appBaseURL,
		client:       &http.Client{Timeout: 30 * time.Second},
		endpoint:     func(shop string) string { return "https://" + shop },
	}
}

func (a *ShopifyAdapter) Source() string      { return "shopify" }
func (a *ShopifyAdapter) DataTypes() []string { return []string{DataProducts, DataOrders, DataInventory} }

// BuildAuthURL returns the provider authorisation URL. The state token is
// <nonce>:<base64(carry)> so the callback can recover the tenant email.
func (a *ShopifyAdapter) BuildAuthURL(shop, carry string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate state nonce: %w", err)
	}
	state := hex.EncodeToString(nonce) + ":" + base64.StdEncoding.EncodeToString([]byte(carry))

	q := url.Values{}
	q.Set("client_id", a.ClientID)
	q.Set("scope", a.Scopes)
	q.Set("redirect_uri", a.AppBaseURL+"/callback")
	q.Set("state", state)
	return a.endpoint(shop) + "/admin/oauth/authorize?" + q.Encode(), nil
}

// DecodeState recovers the carry value from a state token.
func DecodeState(state string) (string, error) {
	_, carry, ok := strings.Cut(state, ":")
	if !ok {
		return "", fault.New(fault.KindAuth, "malformed state token")
	}
	decoded, err := base64.StdEncoding.DecodeString(carry)
	if err != nil {
		return "", fault.Wrap(fault.KindAuth, "undecodable carry value", err)
	}
	return string(decoded), nil
}

// ExchangeCodeForToken trades the callback code for a permanent access token.
func (a *ShopifyAdapter) ExchangeCodeForToken(ctx context.Context, shop, code string) (token, scopes string, err error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     a.ClientID,
		"client_secret": a.ClientSecret,
		"code":          code,
	})
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.endpoint(shop)+"/admin/oauth/access_token", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", "", fault.Wrap(fault.KindTransient, "token exchange unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fault.New(fault.KindAuth, fmt.Sprintf("token exchange returned %d", resp.StatusCode))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fault.Wrap(fault.KindAuth, "undecodable token response", err)
	}
	if out.AccessToken == "" {
		return "", "", fault.New(fault.KindAuth, "empty access token")
	}
	return out.AccessToken, out.Scope, nil
}

// Fetch pulls one data type from the admin REST API verbatim.
func (a *ShopifyAdapter) Fetch(ctx context.Context, conn *models.Connection, dataType string) (*RawPayload, error) {
	var path string
	switch dataType {
	case DataProducts:
		path = fmt.Sprintf("/admin/api/%s/products.json?limit=250", shopifyAPIVersion)
	case DataOrders:
		path = fmt.Sprintf("/admin/api/%s/orders.json?status=any&limit=250", shopifyAPIVersion)
	case DataInventory:
		path = fmt.Sprintf("/admin/api/%s/inventory_levels.json?limit=250", shopifyAPIVersion)
	default:
		return nil, fault.New(fault.KindSchema, "unknown shopify data type "+dataType)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint(conn.ShopDomain)+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Shopify-Access-Token", conn.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "shopify fetch failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fault.New(fault.KindAuth, fmt.Sprintf("shopify rejected token (%d)", resp.StatusCode))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fault.New(fault.KindTransient, fmt.Sprintf("shopify returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fault.New(fault.KindSchema, fmt.Sprintf("shopify returned %d for %s", resp.StatusCode, dataType))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "read shopify body", err)
	}

	return &RawPayload{
		Source:    a.Source(),
		DataType:  dataType,
		SourceKey: fmt.Sprintf("shopify:%s:%s", conn.ShopDomain, dataType),
		Body:      body,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// RegisterChangeNotifications subscribes the standard topics. A topic that is
// already subscribed (422) counts as registered.
func (a *ShopifyAdapter) RegisterChangeNotifications(ctx context.Context, conn *models.Connection, callbackBase string) ([]string, error) {
	var registered []string
	for _, topic := range shopifyTopics {
		payload, err := json.Marshal(map[string]interface{}{
			"webhook": map[string]string{
				"topic":   topic,
				"address": callbackBase + "/webhooks/shopify",
				"format":  "json",
			},
		})
		if err != nil {
			return registered, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/admin/api/%s/webhooks.json", a.endpoint(conn.ShopDomain), shopifyAPIVersion),
			bytes.NewReader(payload))
		if err != nil {
			return registered, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Shopify-Access-Token", conn.AccessToken)

		resp, err := a.client.Do(req)
		if err != nil {
			return registered, fault.Wrap(fault.KindTransient, "webhook registration failed", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusUnprocessableEntity {
			registered = append(registered, topic)
			continue
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return registered, fault.New(fault.KindAuth, "webhook registration rejected")
		}
		return registered, fault.New(fault.KindTransient, fmt.Sprintf("webhook registration returned %d", resp.StatusCode))
	}
	return registered, nil
}
