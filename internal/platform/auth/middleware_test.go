package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

var testSecret = []byte("test-secret")

func doRequest(t *testing.T, token string, mw ...echo.MiddlewareFunc) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	e := echo.New()
	var gotSession, gotRole string
	h := func(c echo.Context) error {
		gotSession = SessionIDFromContext(c.Request().Context())
		gotRole = RoleFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	}
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, gotSession, gotRole
}

func TestSessionMiddlewareRoundTrip(t *testing.T) {
	token, err := NewSessionToken(testSecret, "sess-1", "doctor", time.Minute)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	rec, session, role := doRequest(t, token, SessionMiddleware(testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if session != "sess-1" || role != "doctor" {
		t.Errorf("context values not set: session=%q role=%q", session, role)
	}
}

func TestSessionMiddlewareRejectsMissingAndBadTokens(t *testing.T) {
	rec, _, _ := doRequest(t, "", SessionMiddleware(testSecret))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: status = %d", rec.Code)
	}

	rec, _, _ = doRequest(t, "not-a-jwt", SessionMiddleware(testSecret))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d", rec.Code)
	}

	other, _ := NewSessionToken([]byte("other-secret"), "s", "doctor", time.Minute)
	rec, _, _ = doRequest(t, other, SessionMiddleware(testSecret))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", rec.Code)
	}

	expired, _ := NewSessionToken(testSecret, "s", "doctor", -time.Minute)
	rec, _, _ = doRequest(t, expired, SessionMiddleware(testSecret))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expired token: status = %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	doctor, _ := NewSessionToken(testSecret, "s", "doctor", time.Minute)
	public, _ := NewSessionToken(testSecret, "s", PublicRole, time.Minute)

	rec, _, _ := doRequest(t, doctor, SessionMiddleware(testSecret), RequireRole("doctor", "nurse"))
	if rec.Code != http.StatusOK {
		t.Errorf("doctor should pass: status = %d", rec.Code)
	}

	rec, _, _ = doRequest(t, public, SessionMiddleware(testSecret), RequireRole("doctor", "nurse"))
	if rec.Code != http.StatusForbidden {
		t.Errorf("public should be forbidden: status = %d", rec.Code)
	}
}
