package githubapp

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Client wraps the GitHub SDK with the calls the event handlers need. It is
// bound to one installation token and one base URL; handlers receive it
// already authenticated and never see the token itself.
type Client struct {
	gh *gh.Client
}

// NewInstallationClient builds a client authenticated with an installation
// token. A non-default baseURL targets a GitHub Enterprise Server.
func NewInstallationClient(ctx context.Context, token InstallationToken, baseURL string) (*Client, error) {
	return newTokenClient(ctx, token.Value, baseURL)
}

// NewLegacyTokenClient builds a client from a personal access token. This is
// the degraded fallback for deployments without App credentials.
func NewLegacyTokenClient(ctx context.Context, token, baseURL string) (*Client, error) {
	return newTokenClient(ctx, token, baseURL)
}

func newTokenClient(ctx context.Context, token, baseURL string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)

	base := strings.TrimRight(baseURL, "/")
	if base != "" && base != defaultBaseURL {
		client, err := gh.NewEnterpriseClient(base, base, httpClient)
		if err != nil {
			return nil, err
		}
		return &Client{gh: client}, nil
	}
	return &Client{gh: gh.NewClient(httpClient)}, nil
}

// PostIssueComment posts a comment on an issue's timeline. Pull requests are
// issues with extra fields in GitHub's data model, so PR timeline comments go
// through this same issues endpoint; that is deliberate API design, not a
// wrong endpoint.
func (c *Client) PostIssueComment(ctx context.Context, owner, repo string, number int, body string) (*gh.IssueComment, error) {
	comment, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{
		Body: gh.String(body),
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// PostReviewLineComment posts a review comment anchored to one line of the
// diff in a pull request.
func (c *Client) PostReviewLineComment(ctx context.Context, owner, repo string, prNumber int, body, commitID, path string, line int) (*gh.PullRequestComment, error) {
	comment, _, err := c.gh.PullRequests.CreateComment(ctx, owner, repo, prNumber, &gh.PullRequestComment{
		Body:      gh.String(body),
		CommitID:  gh.String(commitID),
		Path:      gh.String(path),
		Line:      gh.Int(line),
		Side:      gh.String("LEFT"),
		StartLine: gh.Int(line),
		StartSide: gh.String("LEFT"),
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// AuthenticatedUser fetches the identity behind the current token.
func (c *Client) AuthenticatedUser(ctx context.Context) (*gh.User, error) {
	user, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Repo fetches repository metadata.
func (c *Client) Repo(ctx context.Context, owner, repo string) (*gh.Repository, error) {
	repository, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	return repository, nil
}

// ListIssues lists the repository's open issues.
func (c *Client) ListIssues(ctx context.Context, owner, repo string) ([]*gh.Issue, error) {
	issues, _, err := c.gh.Issues.ListByRepo(ctx, owner, repo, nil)
	if err != nil {
		return nil, err
	}
	return issues, nil
}

// PullRequestRef identifies a pull request by its web URL parts.
type PullRequestRef struct {
	Owner  string
	Repo   string
	Number int
}

// ParsePullRequestURL parses a pull request web URL of the shape
// https://host/{owner}/{repo}/pull/{number}. Anything else is an error.
func ParsePullRequestURL(raw string) (PullRequestRef, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return PullRequestRef{}, fmt.Errorf("parse pull request url: %w", err)
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) != 4 || segments[2] != "pull" {
		return PullRequestRef{}, fmt.Errorf("not a pull request url: %s", raw)
	}
	number, err := strconv.Atoi(segments[3])
	if err != nil || number <= 0 {
		return PullRequestRef{}, fmt.Errorf("invalid pull request number in url: %s", raw)
	}
	if segments[0] == "" || segments[1] == "" {
		return PullRequestRef{}, fmt.Errorf("missing owner or repo in url: %s", raw)
	}
	return PullRequestRef{Owner: segments[0], Repo: segments[1], Number: number}, nil
}
