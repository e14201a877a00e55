package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	github "github.com/go-playground/webhooks/v6/github"

	"reviewhook/internal"
	"reviewhook/pkg/dispatch"
	"reviewhook/pkg/githubapp"
	"reviewhook/pkg/review"
)

// Register wires the built-in handlers into the router. Called once at
// startup, before the worker runs.
func Register(router *dispatch.Router, relay *review.Relay, logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	router.Register("issue_comment", "created", replyToComment(logger))
	router.Register("pull_request", "opened", welcomePullRequest(logger, relay))
}

// replyToComment greets the author of a new issue or PR comment.
func replyToComment(logger *log.Logger) dispatch.HandlerFunc {
	return func(ctx context.Context, evt *internal.Event, client *githubapp.Client) error {
		var payload github.IssueCommentPayload
		if err := json.Unmarshal(evt.RawPayload, &payload); err != nil {
			return fmt.Errorf("decode issue_comment payload: %w", err)
		}

		author := payload.Comment.User.Login
		message := fmt.Sprintf("Hello @%s, thanks for the comment!", author)
		_, err := client.PostIssueComment(ctx,
			payload.Repository.Owner.Login,
			payload.Repository.Name,
			int(payload.Issue.Number),
			message,
		)
		if err != nil {
			return err
		}
		logger.Printf("replied to @%s on %s#%d", author, payload.Repository.FullName, payload.Issue.Number)
		return nil
	}
}

// welcomePullRequest posts a welcome comment on new pull requests and, when a
// review service is configured, relays the PR for review.
func welcomePullRequest(logger *log.Logger, relay *review.Relay) dispatch.HandlerFunc {
	return func(ctx context.Context, evt *internal.Event, client *githubapp.Client) error {
		var payload github.PullRequestPayload
		if err := json.Unmarshal(evt.RawPayload, &payload); err != nil {
			return fmt.Errorf("decode pull_request payload: %w", err)
		}

		owner := payload.Repository.Owner.Login
		repo := payload.Repository.Name
		number := int(payload.PullRequest.Number)
		author := payload.PullRequest.User.Login
		logger.Printf("pull request %s#%d opened by @%s: %q", payload.Repository.FullName, number, author, payload.PullRequest.Title)

		welcome := fmt.Sprintf("Thanks for opening this PR, @%s! We will review it soon.", author)
		if _, err := client.PostIssueComment(ctx, owner, repo, number, welcome); err != nil {
			return err
		}

		if !relay.Enabled() {
			return nil
		}
		return relay.ReviewPullRequest(ctx, client, payload.PullRequest.HTMLURL)
	}
}
