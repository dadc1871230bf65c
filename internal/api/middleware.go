package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/ricochet1k/termslots/internal/domain"
	"github.com/ricochet1k/termslots/internal/storage"
)

type ctxKey int

const userKey ctxKey = iota

func withUser(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// userFrom returns the authenticated user. Routes behind requireUser always
// have one; elsewhere the zero User is inactive and passes no gate.
func userFrom(ctx context.Context) domain.User {
	u, _ := ctx.Value(userKey).(domain.User)
	return u
}

// filterAddress refuses clients the stored address rules do not admit.
func (h *Handler) filterAddress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := remoteAddr(r)
		if !ok {
			writeError(w, http.StatusForbidden, "address not allowed", "unparseable remote address")
			return
		}
		rules, err := h.store.LoadAddressRules(r.Context())
		if err != nil {
			h.log.Error("load address rules", "err", err)
			writeError(w, http.StatusInternalServerError, "failed to load address rules", "")
			return
		}
		if !rules.Admits(addr) {
			h.log.Info("refused connection", "addr", addr)
			writeError(w, http.StatusForbidden, "address not allowed", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteAddr(r *http.Request) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr(), true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	return addr, err == nil
}

// requireUser resolves the identity header to a stored, active user.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSpace(r.Header.Get(h.identityHeader))
		if name == "" {
			writeError(w, http.StatusUnauthorized, "authentication required", "missing "+h.identityHeader+" header")
			return
		}
		user, err := h.store.LoadIdentity(r.Context(), name)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unknown user", "")
				return
			}
			h.log.Error("load identity", "user", name, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to load user", "")
			return
		}
		if !user.Active {
			writeError(w, http.StatusForbidden, "user is inactive", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}
