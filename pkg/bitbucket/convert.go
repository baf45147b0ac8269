package bitbucket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/prcycle/pkg/cycletime"
)

type link struct {
	Href string `json:"href"`
}

type account struct {
	DisplayName string `json:"display_name"`
	Nickname    string `json:"nickname"`
	UUID        string `json:"uuid"`
	AccountID   string `json:"account_id"`
}

func (a *account) identity() cycletime.Identity {
	if a == nil {
		return cycletime.Identity{}
	}
	id := cycletime.Identity{Login: a.DisplayName, ID: a.UUID}
	if id.Login == "" {
		id.Login = a.Nickname
	}
	if id.ID == "" {
		id.ID = a.AccountID
	}
	return id
}

type page[T any] struct {
	Values []T    `json:"values"`
	Next   string `json:"next"`
}

type commitRef struct {
	Hash  string `json:"hash"`
	Links struct {
		Self link `json:"self"`
	} `json:"links"`
}

type pullRequest struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`
	Author    account   `json:"author"`

	Destination struct {
		Branch struct {
			Name string `json:"name"`
		} `json:"branch"`
	} `json:"destination"`
	Source struct {
		Commit commitRef `json:"commit"`
	} `json:"source"`
	MergeCommit *commitRef `json:"merge_commit"`

	Links struct {
		HTML     link `json:"html"`
		Comments link `json:"comments"`
		Diffstat link `json:"diffstat"`
		Activity link `json:"activity"`
		Commits  link `json:"commits"`
	} `json:"links"`
}

type commit struct {
	Hash   string    `json:"hash"`
	Date   time.Time `json:"date"`
	Author struct {
		Raw  string   `json:"raw"`
		User *account `json:"user"`
	} `json:"author"`
	Links struct {
		HTML link `json:"html"`
	} `json:"links"`
}

type comment struct {
	CreatedOn time.Time `json:"created_on"`
	User      account   `json:"user"`
	Deleted   bool      `json:"deleted"`
	Links     struct {
		HTML link `json:"html"`
	} `json:"links"`
}

type diffstat struct {
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

type approval struct {
	Date        time.Time `json:"date"`
	User        account   `json:"user"`
	PullRequest struct {
		Links struct {
			HTML link `json:"html"`
		} `json:"links"`
	} `json:"pullrequest"`
}

type update struct {
	Date    time.Time                  `json:"date"`
	State   string                     `json:"state"`
	Author  account                    `json:"author"`
	Changes map[string]json.RawMessage `json:"changes"`
	Source  struct {
		Commit commitRef `json:"commit"`
	} `json:"source"`
}

// change decodes one entry of the changes map.
func (u *update) change(name string, v any) bool {
	raw, ok := u.Changes[name]
	return ok && json.Unmarshal(raw, v) == nil
}

// markedReady reports a draft being turned into a regular pull request.
func (u *update) markedReady() bool {
	var draft struct {
		Old *bool `json:"old"`
		New *bool `json:"new"`
	}
	return u.change("draft", &draft) && draft.Old != nil && *draft.Old && draft.New != nil && !*draft.New
}

// merged reports the update that fulfilled the pull request.
func (u *update) merged() bool {
	var status struct {
		New string `json:"new"`
	}
	return u.State == "MERGED" && u.change("status", &status) && status.New == "fulfilled"
}

type activity struct {
	Approval *approval `json:"approval"`
	Update   *update   `json:"update"`
}

type enrichment struct {
	commits  []commit
	comments []comment
	diffstat []diffstat
	activity []activity
}

// assemble converts a listed pull request and its enrichment into the
// canonical record. Approvals become reviews; draft to ready transitions and
// the merge instant come from the activity log. The merge commit is removed
// from the commit list.
func assemble(pr *pullRequest, repository string, parts *enrichment) cycletime.PullRequest {
	out := cycletime.PullRequest{
		Number:       pr.ID,
		Title:        pr.Title,
		URL:          pr.Links.HTML.Href,
		Repository:   repository,
		CreatedAt:    pr.CreatedOn,
		Author:       pr.Author.identity(),
		BaseBranch:   pr.Destination.Branch.Name,
		ChangedFiles: len(parts.diffstat),
	}
	if out.BaseBranch == "" {
		out.BaseBranch = "main"
	}

	for _, d := range parts.diffstat {
		out.Additions += d.LinesAdded
		out.Deletions += d.LinesRemoved
	}

	mergeHash := ""
	if pr.MergeCommit != nil {
		mergeHash = pr.MergeCommit.Hash
	}
	for i := range parts.commits {
		cm := &parts.commits[i]
		// The API abbreviates the merge commit hash.
		if mergeHash != "" && strings.HasPrefix(cm.Hash, mergeHash) {
			continue
		}
		c := cycletime.Commit{
			AuthoredAt: cm.Date,
			AuthorName: authorName(cm),
			URL:        cm.Links.HTML.Href,
		}
		if c.URL == "" {
			c.URL = out.URL + "/commits/" + cm.Hash
		}
		if cm.Author.User != nil {
			id := cm.Author.User.identity()
			c.Author = &id
		}
		out.Commits = append(out.Commits, c)
	}

	for i := range parts.comments {
		cm := &parts.comments[i]
		if cm.Deleted {
			continue
		}
		out.Comments = append(out.Comments, cycletime.Comment{
			CreatedAt: cm.CreatedOn,
			Author:    cm.User.identity(),
			URL:       cm.Links.HTML.Href,
		})
	}

	for i := range parts.activity {
		a := &parts.activity[i]
		if a.Approval != nil {
			out.Reviews = append(out.Reviews, cycletime.Review{
				SubmittedAt: a.Approval.Date,
				Author:      a.Approval.User.identity(),
				State:       "APPROVED",
				URL:         a.Approval.PullRequest.Links.HTML.Href,
			})
		}
		if u := a.Update; u != nil {
			if u.markedReady() {
				out.ReadyForReview = append(out.ReadyForReview, cycletime.ReadyForReview{
					OccurredAt: u.Date,
					Author:     u.Author.identity(),
				})
			}
			if out.MergedAt.IsZero() && u.merged() {
				out.MergedAt = u.Date
			}
		}
	}

	// A merged pull request without a fulfilling update was last touched by
	// the merge.
	if out.MergedAt.IsZero() {
		out.MergedAt = pr.UpdatedOn
	}

	return out
}

// authorName returns the display name of a commit author, falling back to
// the name part of the raw "Name <email>" header.
func authorName(cm *commit) string {
	if id := cm.Author.User.identity(); id.Login != "" {
		return id.Login
	}
	name, _, _ := strings.Cut(cm.Author.Raw, "<")
	return strings.TrimSpace(name)
}
