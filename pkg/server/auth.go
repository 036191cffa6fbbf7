package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/smdmonitor/smdmonitor/pkg/log"
)

// identity is the verified subject of an ID token.
type identity struct {
	Email   string
	Subject string
	Expiry  time.Time
}

// tokenVerifier validates a raw ID token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (identity, error)

func oidcVerifier(v *oidc.IDTokenVerifier, client *http.Client) tokenVerifier {
	return func(ctx context.Context, rawIDToken string) (identity, error) {
		idToken, err := v.Verify(oidc.ClientContext(ctx, client), rawIDToken)
		if err != nil {
			return identity{}, err
		}
		var claims struct {
			Email         string `json:"email"`
			EmailVerified *bool  `json:"email_verified"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return identity{}, err
		}
		if claims.EmailVerified != nil && !*claims.EmailVerified {
			return identity{}, errors.New("email not verified")
		}
		return identity{
			Email:   claims.Email,
			Subject: idToken.Subject,
			Expiry:  idToken.Expiry,
		}, nil
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if s.bypassAuth {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		allowNoLogin := r.URL.Path == "/api/auth/login" || r.URL.Path == "/api/auth/status" || r.URL.Path == "/api/auth/logout"

		token := bearerToken(r)
		if token == "" {
			if c, err := r.Cookie(authTokenCookie); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			if !allowNoLogin {
				log.Ctx(ctx).WarnContext(ctx, "unauthenticated request")
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		id, err := s.authenticateToken(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
			s.clearCookie(w)
			if !allowNoLogin {
				writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		if !s.emailAllowed(id.Email) {
			log.Ctx(ctx).WarnContext(ctx, "email not allowed", slog.String("email", id.Email))
			s.clearCookie(w)
			if !allowNoLogin {
				writeJSONError(w, "access denied", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("authUserID", id.Subject)))
		log.Ctx(ctx).DebugContext(ctx, "authenticated request", slog.String("email", id.Email))
		ctx = context.WithValue(ctx, userContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func (s *Server) emailAllowed(email string) bool {
	if len(s.allowedEmails) == 0 {
		return true
	}
	return slices.ContainsFunc(s.allowedEmails, func(allowed string) bool {
		return strings.EqualFold(allowed, email)
	})
}

func (s *Server) authenticateToken(ctx context.Context, token string) (identity, error) {
	if s.verifier == nil {
		return identity{}, errors.New("no oidc verifier configured")
	}
	id, err := s.verifier(ctx, token)
	if err != nil {
		return identity{}, err
	}
	if id.Email == "" {
		return identity{}, errors.New("id token has no email claim")
	}
	return id, nil
}

func (s *Server) getUser(r *http.Request) (identity, bool) {
	id, ok := r.Context().Value(userContextKey).(identity)
	return id, ok
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// since we failed to read, don't return JSON error
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	id, err := s.authenticateToken(r.Context(), req.Token)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to validate id token", slog.Any("error", err))
		writeJSONError(w, "invalid id token", http.StatusUnauthorized)
		return
	}
	if !s.emailAllowed(id.Email) {
		log.Ctx(r.Context()).WarnContext(r.Context(), "login from email not allowed", slog.String("email", id.Email))
		writeJSONError(w, "access denied", http.StatusForbidden)
		return
	}

	log.Ctx(r.Context()).InfoContext(r.Context(), "login token validated successfully", slog.String("email", id.Email), slog.String("subject", id.Subject))

	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    req.Token,
		Expires:  id.Expiry,
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
	})

	w.WriteHeader(http.StatusOK)
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearCookie(w)
	w.WriteHeader(http.StatusOK)
}

type authStatusResponse struct {
	LoggedIn     bool   `json:"loggedIn"`
	Email        string `json:"email,omitempty"`
	AuthRequired bool   `json:"authRequired"`
	ClientID     string `json:"clientID,omitempty"`
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	resp := authStatusResponse{
		AuthRequired: !s.bypassAuth,
		ClientID:     s.oidcAudience,
	}
	if id, ok := s.getUser(r); ok {
		resp.LoggedIn = true
		resp.Email = id.Email
	}
	writeJSON(w, resp)
}
