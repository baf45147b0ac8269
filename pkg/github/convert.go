package github

import (
	"strconv"
	"strings"

	gh "github.com/google/go-github/v62/github"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

// enrichment holds the per pull request API responses assembled into a
// canonical record.
type enrichment struct {
	commits        []*gh.RepositoryCommit
	files          []*gh.CommitFile
	reviewComments []*gh.PullRequestComment
	issueComments  []*gh.IssueComment
	reviews        []*gh.PullRequestReview
	timeline       []*gh.Timeline
}

// assemble converts a listed pull request and its enrichment into the
// canonical record. Additions and deletions are summed over the files.
// Comments and reviews by bot accounts are kept: a CI bot answering the
// author is a collaborator interaction.
func assemble(pr *gh.PullRequest, repository string, parts *enrichment) cycletime.PullRequest {
	out := cycletime.PullRequest{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		URL:          pr.GetHTMLURL(),
		Repository:   repository,
		CreatedAt:    pr.GetCreatedAt().Time,
		MergedAt:     pr.GetMergedAt().Time,
		Author:       identity(pr.GetUser()),
		BaseBranch:   pr.GetBase().GetRef(),
		ChangedFiles: len(parts.files),
	}

	for _, f := range parts.files {
		out.Additions += f.GetAdditions()
		out.Deletions += f.GetDeletions()
	}

	for _, rc := range parts.commits {
		out.Commits = append(out.Commits, convertCommit(rc))
	}

	seen := make(map[int64]bool, len(parts.reviewComments))
	for _, c := range parts.reviewComments {
		if id := c.GetID(); id != 0 {
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		out.Comments = append(out.Comments, cycletime.Comment{
			CreatedAt: c.GetCreatedAt().Time,
			Author:    identity(c.GetUser()),
			URL:       c.GetHTMLURL(),
		})
	}
	for _, c := range parts.issueComments {
		out.Comments = append(out.Comments, cycletime.Comment{
			CreatedAt: c.GetCreatedAt().Time,
			Author:    identity(c.GetUser()),
			URL:       c.GetHTMLURL(),
		})
	}

	for _, r := range parts.reviews {
		// Pending reviews have not been submitted yet.
		if r.GetSubmittedAt().IsZero() {
			continue
		}
		out.Reviews = append(out.Reviews, cycletime.Review{
			SubmittedAt: r.GetSubmittedAt().Time,
			Author:      identity(r.GetUser()),
			State:       r.GetState(),
			URL:         r.GetHTMLURL(),
		})
	}

	for _, t := range parts.timeline {
		if t.GetEvent() != "ready_for_review" {
			continue
		}
		out.ReadyForReview = append(out.ReadyForReview, cycletime.ReadyForReview{
			OccurredAt: t.GetCreatedAt().Time,
			Author:     identity(t.GetActor()),
		})
	}

	return out
}

func convertCommit(rc *gh.RepositoryCommit) cycletime.Commit {
	author := rc.GetCommit().GetAuthor()
	c := cycletime.Commit{
		AuthoredAt: author.GetDate().Time,
		AuthorName: author.GetName(),
		URL:        rc.GetHTMLURL(),
	}
	// The platform account is missing when the commit email is not linked.
	if rc.GetAuthor().GetLogin() != "" {
		id := identity(rc.GetAuthor())
		c.Author = &id
	}
	return c
}

func identity(u *gh.User) cycletime.Identity {
	if u == nil {
		return cycletime.Identity{}
	}
	id := cycletime.Identity{Login: u.GetLogin()}
	if u.ID != nil {
		id.ID = strconv.FormatInt(u.GetID(), 10)
	}
	return id
}

// IsBot reports whether login belongs to a GitHub App or bot account.
func IsBot(login string) bool {
	return strings.HasSuffix(login, "[bot]")
}
