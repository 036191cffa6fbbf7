package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smdmonitor/smdmonitor/pkg/storage/storagemock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeVerifier(ctx context.Context, token string) (identity, error) {
	switch token {
	case "valid-token":
		return identity{Email: "user@example.com", Subject: "user-1", Expiry: time.Now().Add(time.Hour)}, nil
	case "other-token":
		return identity{Email: "other@example.com", Subject: "user-2", Expiry: time.Now().Add(time.Hour)}, nil
	case "no-email-token":
		return identity{Subject: "user-3"}, nil
	}
	return identity{}, errors.New("bad signature")
}

func newAuthServer() *Server {
	return &Server{
		storage:       new(storagemock.MockDatabase),
		oidcAudience:  "test-client",
		verifier:      fakeVerifier,
		allowedEmails: []string{"User@Example.com"},
	}
}

func TestAuthMiddleware(t *testing.T) {
	// echoes the authenticated email so the cases can check the context
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := (&Server{}).getUser(r); ok {
			w.Header().Set("X-Email", id.Email)
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name      string
		path      string
		bearer    string
		cookie    string
		bypass    bool
		status    int
		email     string
		clearsJar bool
	}{
		{name: "No Token", path: "/api/dashboard", status: http.StatusUnauthorized},
		{name: "Bearer Token", path: "/api/dashboard", bearer: "valid-token", status: http.StatusOK, email: "user@example.com"},
		{name: "Cookie Token", path: "/api/dashboard", cookie: "valid-token", status: http.StatusOK, email: "user@example.com"},
		{name: "Invalid Token", path: "/api/dashboard", cookie: "forged", status: http.StatusUnauthorized, clearsJar: true},
		{name: "Missing Email Claim", path: "/api/dashboard", bearer: "no-email-token", status: http.StatusUnauthorized, clearsJar: true},
		{name: "Email Not Allowed", path: "/api/dashboard", bearer: "other-token", status: http.StatusForbidden, clearsJar: true},
		{name: "Logout With Email Not Allowed", path: "/api/auth/logout", cookie: "other-token", status: http.StatusOK, clearsJar: true},
		{name: "Status With Email Not Allowed", path: "/api/auth/status", cookie: "other-token", status: http.StatusOK, clearsJar: true},
		{name: "Status Without Login", path: "/api/auth/status", status: http.StatusOK},
		{name: "Status With Invalid Token", path: "/api/auth/status", cookie: "forged", status: http.StatusOK, clearsJar: true},
		{name: "Bypass", path: "/api/dashboard", bypass: true, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newAuthServer()
			srv.bypassAuth = tt.bypass

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: authTokenCookie, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			srv.authMiddleware(testHandler).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.email, w.Header().Get("X-Email"))
			if tt.clearsJar {
				require.Len(t, w.Result().Cookies(), 1)
				assert.Equal(t, -1, w.Result().Cookies()[0].MaxAge)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	login := func(body any) *httptest.ResponseRecorder {
		b, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(b))
		w := httptest.NewRecorder()
		newAuthServer().setupHandler().ServeHTTP(w, req)
		return w
	}

	t.Run("Valid", func(t *testing.T) {
		w := login(map[string]string{"token": "valid-token"})
		require.Equal(t, http.StatusOK, w.Code)
		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, authTokenCookie, cookies[0].Name)
		assert.Equal(t, "valid-token", cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)
		assert.True(t, cookies[0].Secure)
	})

	t.Run("Invalid", func(t *testing.T) {
		w := login(map[string]string{"token": "forged"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, w.Result().Cookies())
	})

	t.Run("Not Allowed", func(t *testing.T) {
		w := login(map[string]string{"token": "other-token"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Malformed Body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		newAuthServer().setupHandler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLogoutWithEmailNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: authTokenCookie, Value: "other-token"})
	w := httptest.NewRecorder()
	newAuthServer().setupHandler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	for _, c := range w.Result().Cookies() {
		assert.Equal(t, authTokenCookie, c.Name)
		assert.Equal(t, -1, c.MaxAge)
	}
	assert.NotEmpty(t, w.Result().Cookies())
}

func TestLogout(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	w := httptest.NewRecorder()
	newAuthServer().setupHandler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestAuthStatus(t *testing.T) {
	status := func(srv *Server, cookie string) authStatusResponse {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: authTokenCookie, Value: cookie})
		}
		w := httptest.NewRecorder()
		srv.setupHandler().ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var resp authStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	resp := status(newAuthServer(), "")
	assert.Equal(t, authStatusResponse{AuthRequired: true, ClientID: "test-client"}, resp)

	resp = status(newAuthServer(), "valid-token")
	assert.Equal(t, authStatusResponse{LoggedIn: true, Email: "user@example.com", AuthRequired: true, ClientID: "test-client"}, resp)

	resp = status(&Server{bypassAuth: true}, "")
	assert.Equal(t, authStatusResponse{}, resp)
}

func TestEmailAllowed(t *testing.T) {
	srv := &Server{}
	assert.True(t, srv.emailAllowed("anyone@example.com"), "no list allows everyone")

	srv.allowedEmails = []string{"ops@grid.example", "Lead@grid.example"}
	assert.True(t, srv.emailAllowed("ops@grid.example"))
	assert.True(t, srv.emailAllowed("lead@GRID.example"))
	assert.False(t, srv.emailAllowed("intruder@grid.example"))
}
