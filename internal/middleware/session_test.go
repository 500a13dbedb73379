package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zhouzirui/query-preprocess/backend/internal/model/session"
)

type fakeEnsurer struct {
	known map[string]bool
	next  string
}

func (f *fakeEnsurer) Ensure(_ context.Context, userID string) session.Session {
	if f.known[userID] {
		return *session.New(userID, time.Now())
	}
	return *session.New(f.next, time.Now())
}

func serve(t *testing.T, ensurer Ensurer, cookie *http.Cookie) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	h := Session(ensurer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestSessionIssuesCookieForNewVisitor(t *testing.T) {
	rec, seen := serve(t, &fakeEnsurer{next: "new-id"}, nil)

	if seen != "new-id" {
		t.Fatalf("handler saw %q", seen)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName || cookies[0].Value != "new-id" {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
	if !cookies[0].HttpOnly {
		t.Fatal("cookie must be HttpOnly")
	}
}

func TestSessionKeepsKnownCookie(t *testing.T) {
	ensurer := &fakeEnsurer{known: map[string]bool{"known": true}, next: "other"}
	rec, seen := serve(t, ensurer, &http.Cookie{Name: CookieName, Value: "known"})

	if seen != "known" {
		t.Fatalf("handler saw %q", seen)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("cookie must not be reissued for a live session")
	}
}

func TestSessionReplacesStaleCookie(t *testing.T) {
	rec, seen := serve(t, &fakeEnsurer{next: "fresh"}, &http.Cookie{Name: CookieName, Value: "expired"})

	if seen != "fresh" {
		t.Fatalf("handler saw %q", seen)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != "fresh" {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
}
