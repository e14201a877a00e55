package githubapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestParsePullRequestURL tests the accepted URL shape and the rejects.
func TestParsePullRequestURL(t *testing.T) {
	ref, err := ParsePullRequestURL("https://github.com/acme/widgets/pull/42")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ref.Owner != "acme" || ref.Repo != "widgets" || ref.Number != 42 {
		t.Fatalf("unexpected ref %+v", ref)
	}

	ref, err = ParsePullRequestURL("https://ghe.example.com/acme/widgets/pull/7")
	if err != nil {
		t.Fatalf("parse enterprise: %v", err)
	}
	if ref.Number != 7 {
		t.Fatalf("unexpected ref %+v", ref)
	}

	bad := []string{
		"https://github.com/acme/widgets/tree/main",
		"https://github.com/acme/widgets/pull/0",
		"https://github.com/acme/widgets/pull/notanumber",
		"https://github.com/acme/widgets",
		"https://github.com/acme/widgets/pull/42/files",
	}
	for _, raw := range bad {
		if _, err := ParsePullRequestURL(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

// TestPostIssueComment tests endpoint, auth header and comment body against a
// fake API server.
func TestPostIssueComment(t *testing.T) {
	var gotPath, gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var comment struct {
			Body string `json:"body"`
		}
		json.NewDecoder(r.Body).Decode(&comment)
		gotBody = comment.Body
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":1,"body":"` + comment.Body + `"}`))
	}))
	defer server.Close()

	client, err := NewLegacyTokenClient(context.Background(), "tok", server.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	comment, err := client.PostIssueComment(context.Background(), "acme", "widgets", 42, "Hello @alice, thanks for the comment!")
	if err != nil {
		t.Fatalf("post comment: %v", err)
	}
	if comment.GetBody() != "Hello @alice, thanks for the comment!" {
		t.Fatalf("unexpected comment body %q", comment.GetBody())
	}
	if gotPath != "/api/v3/repos/acme/widgets/issues/42/comments" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody != "Hello @alice, thanks for the comment!" {
		t.Fatalf("unexpected request body %q", gotBody)
	}
}

// TestPostIssueCommentError tests that API failures surface the status.
func TestPostIssueCommentError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"Validation Failed"}`))
	}))
	defer server.Close()

	client, err := NewLegacyTokenClient(context.Background(), "tok", server.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.PostIssueComment(context.Background(), "acme", "widgets", 42, "hi")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected 422 in error, got %v", err)
	}
}

// TestPostReviewLineComment tests the diff-anchored comment fields.
func TestPostReviewLineComment(t *testing.T) {
	var gotPath string
	var got struct {
		Body      string `json:"body"`
		CommitID  string `json:"commit_id"`
		Path      string `json:"path"`
		Line      int    `json:"line"`
		Side      string `json:"side"`
		StartLine int    `json:"start_line"`
		StartSide string `json:"start_side"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":9}`))
	}))
	defer server.Close()

	client, err := NewLegacyTokenClient(context.Background(), "tok", server.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.PostReviewLineComment(context.Background(), "acme", "widgets", 42, "nit", "abc123", "main.go", 10)
	if err != nil {
		t.Fatalf("post line comment: %v", err)
	}
	if gotPath != "/api/v3/repos/acme/widgets/pulls/42/comments" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if got.Body != "nit" || got.CommitID != "abc123" || got.Path != "main.go" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.Line != 10 || got.Side != "LEFT" || got.StartLine != 10 || got.StartSide != "LEFT" {
		t.Fatalf("unexpected anchor fields %+v", got)
	}
}

// TestNewTokenClientRequiresToken tests that an empty token is rejected.
func TestNewTokenClientRequiresToken(t *testing.T) {
	if _, err := NewLegacyTokenClient(context.Background(), "", ""); err == nil {
		t.Fatalf("expected error for empty token")
	}
}
