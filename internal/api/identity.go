package api

import (
	"encoding/json"
	"net/http"

	"civicsync/internal/fault"
	"civicsync/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

type identityRequest struct {
	Credential string `json:"credential,omitempty"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	Picture    string `json:"picture,omitempty"`
}

// handleIdentity upserts the tenant from an identity-provider credential (an
// HS256 JWT under the shared secret) or a plain profile body.
func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed body")
		return
	}

	email, name, picture := req.Email, req.Name, req.Picture
	if req.Credential != "" {
		claims, err := s.parseIdentityToken(req.Credential)
		if err != nil {
			writeError(w, err)
			return
		}
		email, name, picture = claims.email, claims.name, claims.picture
	}
	if email == "" {
		badRequest(w, "email is required")
		return
	}

	tenant, err := s.repo.UpsertTenant(r.Context(), email, name, picture)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

type identityClaims struct {
	email   string
	name    string
	picture string
}

func (s *Server) parseIdentityToken(credential string) (*identityClaims, error) {
	if s.cfg.IdentitySecret == "" {
		return nil, fault.New(fault.KindConfig, "identity credentials are not configured")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fault.New(fault.KindAuth, "unexpected signing method")
		}
		return []byte(s.cfg.IdentitySecret), nil
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindAuth, "invalid credential", err)
	}

	str := func(key string) string {
		v, _ := claims[key].(string)
		return v
	}
	return &identityClaims{email: str("email"), name: str("name"), picture: str("picture")}, nil
}

// handleTenantMe returns the tenant record with its connection status, for
// the frontend header.
func (s *Server) handleTenantMe(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		badRequest(w, "email is required")
		return
	}

	ctx := r.Context()
	tenant, err := s.repo.GetTenantByEmail(ctx, email)
	if err != nil {
		writeError(w, err)
		return
	}
	if tenant == nil {
		writeError(w, fault.New(fault.KindNotFound, "tenant not found"))
		return
	}

	conn, err := s.repo.GetConnectionForTenant(ctx, tenant.ID, "shopify")
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant":      tenant,
		"connection":  conn,
		"solve_count": tenant.SolveCount,
		"solve_limit": solveLimit(tenant),
	})
}

func solveLimit(t *models.Tenant) int {
	if t.Plan == models.PlanPro {
		return 0 // unlimited
	}
	return models.FreeSolveLimit
}

// handleTenantUsage counts one solve against the tenant's plan.
func (s *Server) handleTenantUsage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		badRequest(w, "email is required")
		return
	}

	ctx := r.Context()
	tenant, err := s.repo.GetTenantByEmail(ctx, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if tenant == nil {
		writeError(w, fault.New(fault.KindNotFound, "tenant not found"))
		return
	}
	if tenant.Plan != models.PlanPro && tenant.SolveCount >= models.FreeSolveLimit {
		writeError(w, fault.New(fault.KindForbidden, "free plan solve limit reached"))
		return
	}

	count, err := s.repo.IncrementSolveCount(ctx, tenant.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"solve_count": count,
		"solve_limit": solveLimit(tenant),
		"plan":        tenant.Plan,
	})
}
