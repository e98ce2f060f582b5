package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/perpus/internal/model"
)

var testCSRFConfig = CSRFConfig{CookieSecure: false, CookieDomain: ""}

// cookieAuthRequest はCookie認証済みとして扱われるリクエストを生成する。
func cookieAuthRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := ContextWithActor(req.Context(), model.Actor{UserID: "user-1", Role: model.RoleUser})
	return req.WithContext(withCookieAuth(ctx))
}

func serveCSRF(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	handler := NewCSRFMiddleware(testCSRFConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, called
}

func TestCSRFMiddleware_SafeMethods_PassThroughWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			w, called := serveCSRF(t, cookieAuthRequest(method, "/books"))
			if !called {
				t.Error("next handler should be called")
			}
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
		})
	}
}

func TestCSRFMiddleware_CookieAuth_StateMutatingMethods(t *testing.T) {
	tests := []struct {
		name        string
		cookieToken string
		headerToken string
		wantStatus  int
	}{
		{"no cookie", "", "token", http.StatusForbidden},
		{"no header", "token", "", http.StatusForbidden},
		{"mismatch", "token-a", "token-b", http.StatusForbidden},
		{"valid", "token-a", "token-a", http.StatusOK},
	}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		for _, tt := range tests {
			t.Run(method+" "+tt.name, func(t *testing.T) {
				req := cookieAuthRequest(method, "/loans")
				if tt.cookieToken != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookieToken})
				}
				if tt.headerToken != "" {
					req.Header.Set(csrfHeaderName, tt.headerToken)
				}

				w, called := serveCSRF(t, req)
				if w.Code != tt.wantStatus {
					t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
				}
				if called != (tt.wantStatus == http.StatusOK) {
					t.Errorf("handler called = %v", called)
				}
				if tt.wantStatus == http.StatusForbidden {
					var body ErrorResponseBody
					if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
						t.Fatalf("failed to decode body: %v", err)
					}
					if body.Code != model.ErrCodeForbidden {
						t.Errorf("code = %q, want %q", body.Code, model.ErrCodeForbidden)
					}
				}
			})
		}
	}
}

func TestCSRFMiddleware_BearerAuth_SkipsValidation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/loans", nil)
	req = withActor(req, "user-1", model.RoleUser)

	w, called := serveCSRF(t, req)
	if !called {
		t.Error("bearer authenticated request should not require CSRF token")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestCSRFMiddleware_GETRequest_SetsCSRFCookie(t *testing.T) {
	w, _ := serveCSRF(t, httptest.NewRequest(http.MethodGet, "/books", nil))

	var found *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			found = c
		}
	}
	if found == nil {
		t.Fatal("expected csrf_token cookie to be set")
	}
	if found.Value == "" {
		t.Error("csrf_token cookie should not be empty")
	}
	if found.HttpOnly {
		t.Error("csrf_token cookie must be readable from JavaScript")
	}
	if found.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", found.SameSite)
	}
}

func TestCSRFMiddleware_GETRequest_ExistingCookie_DoesNotReplace(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/books", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})

	w, _ := serveCSRF(t, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			t.Errorf("existing cookie should not be replaced, got %q", c.Value)
		}
	}
}

func TestCSRFTokenHandler_SetsTokenCookieAndReturnsJSON(t *testing.T) {
	w := httptest.NewRecorder()
	NewCSRFTokenHandler(testCSRFConfig).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/csrf-token", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body["token"]) != 64 {
		t.Errorf("token length = %d, want 64", len(body["token"]))
	}

	var cookieValue string
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			cookieValue = c.Value
		}
	}
	if cookieValue != body["token"] {
		t.Errorf("cookie = %q, body token = %q", cookieValue, body["token"])
	}
}

func TestCSRFTokenHandler_ExistingCookie_ReturnsSameToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
	w := httptest.NewRecorder()

	NewCSRFTokenHandler(testCSRFConfig).ServeHTTP(w, req)

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["token"] != "existing-token" {
		t.Errorf("token = %q, want %q", body["token"], "existing-token")
	}
}
