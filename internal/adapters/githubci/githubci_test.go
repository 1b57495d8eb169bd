package githubci

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/aelitaqueue/internal/pipeline"
)

func TestServeHTTP_SuccessStatus(t *testing.T) {
	a := New(1, 100, "ci/build")
	body := `{"state":"success","sha":"abc","context":"ci/build","target_url":"http://x"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	select {
	case e := <-a.Events():
		succ, ok := e.(pipeline.CiBuildSucceeded)
		if !ok || succ.Commit != "abc" {
			t.Fatalf("expected CiBuildSucceeded for abc, got %#v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestServeHTTP_IgnoresOtherContexts(t *testing.T) {
	a := New(1, 100, "ci/build")
	body := `{"state":"success","sha":"abc","context":"other/context"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	select {
	case e := <-a.Events():
		t.Fatalf("expected no event for mismatched context, got %#v", e)
	case <-time.After(50 * time.Millisecond):
	}
}
