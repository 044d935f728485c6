package identity

import (
	"net/http"

	"github.com/claimdesk/claimdesk/internal/shared"
)

// Middleware resolves the session identity once and stores the snapshot on
// the request context. It must run after the session middleware.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := p.Resolve(shared.SessionFromContext(r.Context()))
		next.ServeHTTP(w, r.WithContext(ContextWithSnapshot(r.Context(), snap)))
	})
}
