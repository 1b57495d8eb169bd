package githubui

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lucasnoah/aelitaqueue/internal/adapters/permcache"
	"github.com/lucasnoah/aelitaqueue/internal/ids"
	"github.com/lucasnoah/aelitaqueue/internal/pipeline"
	"github.com/lucasnoah/aelitaqueue/internal/ratelimit"
)

type fakeCmd struct {
	mu   sync.Mutex
	args [][]string
}

func (f *fakeCmd) Run(args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.args = append(f.args, args)
	return "", nil
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func postSigned(t *testing.T, a *Adapter, secret []byte, eventType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-Hub-Signature", sign(secret, body))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	return rec
}

func TestServeHTTP_RejectsBadSignature(t *testing.T) {
	secret := []byte("topsecret")
	a := New(1, secret, &fakeCmd{}, ratelimit.New())

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-GitHub-Event", "ping")
	req.Header.Set("X-Hub-Signature", "sha1=deadbeef")
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", rec.Code)
	}
}

func TestServeHTTP_PullRequestOpened(t *testing.T) {
	secret := []byte("topsecret")
	a := New(1, secret, &fakeCmd{}, ratelimit.New())

	body := []byte(`{"action":"opened","number":42,"pull_request":{"title":"fix thing","html_url":"http://x","head":{"sha":"abc123","ref":"feature"}}}`)
	rec := postSigned(t, a, secret, "pull_request", body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	select {
	case e := <-a.Events():
		opened, ok := e.(pipeline.UiOpened)
		if !ok || opened.Commit != "abc123" {
			t.Fatalf("expected UiOpened with commit abc123, got %#v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestServeHTTP_ApproveComment(t *testing.T) {
	secret := []byte("topsecret")
	a := New(1, secret, &fakeCmd{}, ratelimit.New())

	body := []byte(`{"action":"created","issue":{"number":7,"pull_request":{}},"comment":{"body":"r+"}}`)
	postSigned(t, a, secret, "issue_comment", body)

	select {
	case e := <-a.Events():
		approved, ok := e.(pipeline.UiApproved)
		if !ok || approved.PR.String() != "7" {
			t.Fatalf("expected UiApproved for pr 7, got %#v", e)
		}
		if approved.Commit != nil {
			t.Fatalf("expected no pinned commit for bare r+, got %v", *approved.Commit)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestServeHTTP_ApproveCommentPinnedCommit(t *testing.T) {
	secret := []byte("topsecret")
	a := New(1, secret, &fakeCmd{}, ratelimit.New())

	body := []byte(`{"action":"created","issue":{"number":7,"pull_request":{}},"comment":{"body":"r+ (deadbeef)"}}`)
	postSigned(t, a, secret, "issue_comment", body)

	select {
	case e := <-a.Events():
		approved, ok := e.(pipeline.UiApproved)
		if !ok || approved.Commit == nil || *approved.Commit != "deadbeef" {
			t.Fatalf("expected UiApproved pinned to deadbeef, got %#v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestServeHTTP_ApproveCommentDeniedWithoutPermission(t *testing.T) {
	secret := []byte("topsecret")
	a := New(1, secret, &fakeCmd{}, ratelimit.New())
	cache := permcache.New() // empty: nobody allowed yet
	a.SetPermissions(cache)

	body := []byte(`{"action":"created","repository":{"full_name":"o/r"},"issue":{"number":7,"pull_request":{}},"comment":{"body":"r+","user":{"login":"mallory"}}}`)
	postSigned(t, a, secret, "issue_comment", body)

	select {
	case e := <-a.Events():
		t.Fatalf("expected no event for unauthorized commenter, got %#v", e)
	case <-time.After(50 * time.Millisecond):
	}

	membership := []byte(`{"action":"added","organization":{"login":"o"},"member":{"login":"mallory"}}`)
	postSigned(t, a, secret, "membership", membership)

	postSigned(t, a, secret, "issue_comment", body)
	select {
	case e := <-a.Events():
		if _, ok := e.(pipeline.UiApproved); !ok {
			t.Fatalf("expected UiApproved once authorized, got %#v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event after membership refresh")
	}
}

func TestSendResult_PostsComment(t *testing.T) {
	cmd := &fakeCmd{}
	a := New(1, nil, cmd, ratelimit.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	if err := a.SendResult(1, ids.NewPR("9", "refs/pull/9/head"), pipeline.Status{Kind: pipeline.Success, MergeCommit: "abc"}); err != nil {
		t.Fatalf("SendResult: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		cmd.mu.Lock()
		n := len(cmd.args)
		cmd.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for gh pr comment call, got %#v", cmd.args)
		case <-time.After(time.Millisecond):
		}
	}
	cmd.mu.Lock()
	defer cmd.mu.Unlock()
	if cmd.args[0][0] != "pr" {
		t.Fatalf("expected one gh pr comment call, got %#v", cmd.args)
	}
}
