package api

import (
	"fmt"
	"log"
	"net/http"
	"net/url"

	"civicsync/internal/adapters"
	"civicsync/internal/fault"

	"github.com/google/uuid"
)

// appRedirect sends the browser back to the frontend with the given query.
func (s *Server) appRedirect(w http.ResponseWriter, r *http.Request, q url.Values) {
	http.Redirect(w, r, s.cfg.AppBaseURL+"/legacy/app.html?"+q.Encode(), http.StatusFound)
}

func (s *Server) appRedirectError(w http.ResponseWriter, r *http.Request, code string) {
	q := url.Values{}
	q.Set("error", code)
	s.appRedirect(w, r, q)
}

// handleConnect starts the OAuth handshake. The tenant email rides in the
// state token so the callback can resolve the tenant without a session.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	shop := r.URL.Query().Get("shop")
	email := r.URL.Query().Get("email")
	if shop == "" || email == "" {
		s.appRedirectError(w, r, "missing_params")
		return
	}

	authURL, err := s.shopify.BuildAuthURL(shop, email)
	if err != nil {
		log.Printf("[api] build auth url for %s: %v", shop, err)
		s.appRedirectError(w, r, "auth_failed")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback finishes the handshake: exchange the code, persist the
// connection, register change notifications and run the inline initial sync
// so the redirect carries real record counts.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	shop := r.URL.Query().Get("shop")
	state := r.URL.Query().Get("state")
	if code == "" || shop == "" || state == "" {
		s.appRedirectError(w, r, "missing_params")
		return
	}

	email, err := adapters.DecodeState(state)
	if err != nil {
		s.appRedirectError(w, r, "auth_failed")
		return
	}

	ctx := r.Context()
	tenant, err := s.repo.GetTenantByEmail(ctx, email)
	if err != nil {
		log.Printf("[api] callback tenant lookup: %v", err)
		s.appRedirectError(w, r, "auth_failed")
		return
	}
	if tenant == nil && s.cfg.SoftMatchOAuth {
		// Opt-in fallback for installs whose carry value does not resolve:
		// attach the connection to the most recent Pro tenant.
		tenant, err = s.repo.MostRecentProTenant(ctx)
		if err != nil {
			log.Printf("[api] callback soft match: %v", err)
			s.appRedirectError(w, r, "auth_failed")
			return
		}
	}
	if tenant == nil {
		s.appRedirectError(w, r, "no_user")
		return
	}

	token, scopes, err := s.shopify.ExchangeCodeForToken(ctx, shop, code)
	if err != nil {
		log.Printf("[api] token exchange for %s failed: %v", shop, err)
		s.appRedirectError(w, r, "auth_failed")
		return
	}

	conn, err := s.repo.UpsertConnection(ctx, tenant.ID, "shopify", shop, token, scopes)
	if err != nil {
		log.Printf("[api] upsert connection for %s: %v", shop, err)
		s.appRedirectError(w, r, "auth_failed")
		return
	}

	if _, err := s.shopify.RegisterChangeNotifications(ctx, conn, s.cfg.AppBaseURL); err != nil {
		// Non-fatal: scheduled syncs still cover the shop.
		log.Printf("[api] webhook registration for %s: %v", shop, err)
	}

	counts, err := s.ing.SyncInline(ctx, conn, uuid.NewString(), s.norm)
	if err != nil {
		if fault.Is(err, fault.KindAuth) {
			s.appRedirectError(w, r, "auth_failed")
			return
		}
		// The connection exists and is marked error; the frontend shows the
		// sync status and a retry path.
		log.Printf("[api] inline sync for %s failed: %v", shop, err)
		q := url.Values{}
		q.Set("shopify_connected", "true")
		q.Set("shop", shop)
		s.appRedirect(w, r, q)
		return
	}

	q := url.Values{}
	q.Set("shopify_connected", "true")
	q.Set("shop", shop)
	q.Set("products", fmt.Sprintf("%d", counts.Products))
	q.Set("orders", fmt.Sprintf("%d", counts.Orders))
	s.appRedirect(w, r, q)
}
