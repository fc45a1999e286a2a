package identity

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
)

func serveIdentity(t *testing.T, req *http.Request) (userID, tabID string, rec *httptest.ResponseRecorder) {
	t.Helper()
	rec = httptest.NewRecorder()
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = UserIDFromContext(r.Context())
		tabID = TabIDFromContext(r.Context())
	}))
	h.ServeHTTP(rec, req)
	return userID, tabID, rec
}

func TestMiddleware_IssuesAnonID(t *testing.T) {
	userID, tabID, rec := serveIdentity(t, httptest.NewRequest(http.MethodGet, "/", nil))

	if !regexp.MustCompile(`^anon_[a-f0-9]{32}$`).MatchString(userID) {
		t.Fatalf("user id = %q, want anon_<32 hex>", userID)
	}
	if tabID != DefaultTabID {
		t.Errorf("tab id = %q, want %q", tabID, DefaultTabID)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == AnonCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("anon cookie not set")
	}
	if cookie.Value != userID {
		t.Errorf("cookie value = %q, want %q", cookie.Value, userID)
	}
	if !cookie.HttpOnly {
		t.Error("anon cookie must be HttpOnly")
	}
}

func TestMiddleware_ReusesValidCookie(t *testing.T) {
	const id = "anon_0123456789abcdef0123456789abcdef"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})

	userID, _, _ := serveIdentity(t, req)
	if userID != id {
		t.Errorf("user id = %q, want reused %q", userID, id)
	}
}

func TestMiddleware_RejectsForgedCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "admin'; DROP TABLE--"})

	userID, _, _ := serveIdentity(t, req)
	if userID == "admin'; DROP TABLE--" {
		t.Fatal("forged cookie value accepted")
	}
	if !regexp.MustCompile(`^anon_[a-f0-9]{32}$`).MatchString(userID) {
		t.Errorf("user id = %q, want freshly issued anon id", userID)
	}
}

func TestTabID_HeaderBeatsQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?tab_id=from-query", nil)
	req.Header.Set(TabHeaderName, "from-header")

	_, tabID, _ := serveIdentity(t, req)
	if tabID != "from-header" {
		t.Errorf("tab id = %q, want from-header", tabID)
	}
}

func TestTabID_QueryFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?tab_id=tab-9", nil)
	_, tabID, _ := serveIdentity(t, req)
	if tabID != "tab-9" {
		t.Errorf("tab id = %q, want tab-9", tabID)
	}
}

func TestSanitizeTabID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"tab-1", "tab-1"},
		{"  tab-1  ", "tab-1"},
		{"", DefaultTabID},
		{"has spaces", DefaultTabID},
		{"<script>", DefaultTabID},
	}
	for _, tt := range tests {
		if got := sanitizeTabID(tt.in); got != tt.want {
			t.Errorf("sanitizeTabID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
