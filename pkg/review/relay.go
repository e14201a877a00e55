package review

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"reviewhook/internal"
	"reviewhook/pkg/githubapp"
)

// Last-resort comment when the review service cannot produce a report and
// there is no error detail worth posting. The PR author still gets an answer
// instead of silence.
const failureNotice = "failed to get review.., please try again later."

// serviceError is a failed review request. detail is the short cause posted
// back to the pull request; err carries the full context for the logs.
type serviceError struct {
	detail string
	err    error
}

func (e *serviceError) Error() string { return e.err.Error() }

func (e *serviceError) Unwrap() error { return e.err }

// failureComment builds the comment posted when no report came back: the
// service's error detail as a small JSON object when there is one, the fixed
// notice otherwise.
func failureComment(err error) string {
	var svcErr *serviceError
	if errors.As(err, &svcErr) {
		if detail, marshalErr := json.Marshal(map[string]string{"error": svcErr.detail}); marshalErr == nil {
			return string(detail)
		}
	}
	return failureNotice
}

// Relay forwards pull request URLs to the external review service and posts
// the returned report back on the PR. The service itself is opaque: one POST
// in, one report out.
type Relay struct {
	url    string
	token  string
	client *http.Client
	logger *log.Logger
}

// NewRelay builds a relay from configuration. An empty URL yields a disabled
// relay.
func NewRelay(cfg internal.ReviewConfig, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{
		url:    strings.TrimSpace(cfg.URL),
		token:  cfg.Token,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		logger: logger,
	}
}

// Enabled reports whether a review service is configured.
func (r *Relay) Enabled() bool {
	return r != nil && r.url != ""
}

// RequestReport asks the review service for a report on the pull request.
func (r *Relay) RequestReport(ctx context.Context, pullRequestURL string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"pull_request_url": pullRequestURL,
		"token":            r.token,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &serviceError{
			detail: fmt.Sprintf("Could not connect to the review service. %v", err),
			err:    fmt.Errorf("review service request failed: %w", err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &serviceError{
			detail: fmt.Sprintf("Received status %d from review service.", resp.StatusCode),
			err:    fmt.Errorf("review service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var out struct {
		ReviewReport string `json:"review_report"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("review service response not JSON: %w", err)
	}
	if out.ReviewReport == "" {
		return "", fmt.Errorf("review service returned no report: %s", strings.TrimSpace(string(body)))
	}
	return out.ReviewReport, nil
}

// ReviewPullRequest fetches a report for the PR and posts it as a timeline
// comment. When the service fails, the failure comment is posted instead and
// the service error is still returned so the caller logs it.
func (r *Relay) ReviewPullRequest(ctx context.Context, client *githubapp.Client, pullRequestURL string) error {
	ref, err := githubapp.ParsePullRequestURL(pullRequestURL)
	if err != nil {
		return err
	}

	report, reportErr := r.RequestReport(ctx, pullRequestURL)
	if reportErr != nil {
		r.logger.Printf("review of %s failed: %v", pullRequestURL, reportErr)
		report = failureComment(reportErr)
	}

	_, postErr := client.PostIssueComment(ctx, ref.Owner, ref.Repo, ref.Number, report)
	return errors.Join(reportErr, postErr)
}
