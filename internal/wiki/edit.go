package wiki

import (
	"context"
	"net/url"
	"strings"

	"wikicron/internal/mwapi"
	logx "wikicron/pkg/logx"
)

// Outcome is the result of a successful edit submission.
type Outcome struct {
	Success    bool
	RevisionID int64
	// NoChange is set when the wiki accepted the edit without creating a revision.
	NoChange bool
}

// Editor appends rendered text to pages through an authenticated session.
type Editor struct {
	log logx.Logger
}

func NewEditor(log logx.Logger) *Editor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Editor{log: log}
}

// AppendBody is the full-body update policy: exactly one newline between the
// current body and the addendum.
func AppendBody(current, addendum string) string {
	return current + "\n" + addendum
}

// Edit fetches the current body of pagePath, appends text and submits the
// full new body with a freshly fetched CSRF token. An empty summary means
// DefaultSummary.
func (e *Editor) Edit(ctx context.Context, s *Session, pagePath, text, summary string) (Outcome, error) {
	title := Title(pagePath)
	log := e.log.With(logx.String("target", s.target), logx.String("page", title))

	current, err := e.CurrentBody(ctx, s, pagePath)
	if err != nil {
		return Outcome{}, err
	}
	token, err := e.csrfToken(ctx, s, title)
	if err != nil {
		return Outcome{}, err
	}

	if strings.TrimSpace(summary) == "" {
		summary = DefaultSummary
	}
	body := AppendBody(current, text)
	resp, err := s.api.Post(ctx, url.Values{
		"action":  {"edit"},
		"title":   {title},
		"text":    {body},
		"summary": {summary},
		"token":   {token},
		"format":  {"json"},
		"bot":     {"true"},
	})
	if err != nil {
		return Outcome{}, &EditError{Target: s.target, Page: title, Kind: EditTransport, Err: err}
	}
	if apiErr := resp.Err(); apiErr != nil {
		return Outcome{}, &EditError{Target: s.target, Page: title, Kind: EditAPIError, Code: apiErr.Code, Info: apiErr.Info, Err: apiErr}
	}
	if result := resp.String("edit", "result"); result != "Success" {
		return Outcome{}, &EditError{Target: s.target, Page: title, Kind: EditAPIError, Code: "unexpected-result", Info: "edit.result " + quoteOrMissing(result)}
	}

	out := Outcome{Success: true}
	if rev, ok := resp.Int64("edit", "newrevid"); ok {
		out.RevisionID = rev
	} else if _, ok := resp.Lookup("edit", "nochange"); ok {
		out.NoChange = true
		out.RevisionID, _ = resp.Int64("edit", "oldrevid")
	}
	log.Debug("edit submitted", logx.Int64("revision", out.RevisionID), logx.Int("bytes", len(body)))
	return out, nil
}

// CurrentBody returns the latest revision text of pagePath, or "" when the
// page does not exist yet.
func (e *Editor) CurrentBody(ctx context.Context, s *Session, pagePath string) (string, error) {
	title := Title(pagePath)
	resp, err := s.api.Get(ctx, url.Values{
		"action": {"query"},
		"prop":   {"revisions"},
		"rvprop": {"content"},
		"titles": {title},
		"format": {"json"},
	})
	if err != nil {
		return "", &EditError{Target: s.target, Page: title, Kind: EditTransport, Err: err}
	}
	if apiErr := resp.Err(); apiErr != nil {
		return "", &EditError{Target: s.target, Page: title, Kind: EditAPIError, Code: apiErr.Code, Info: apiErr.Info, Err: apiErr}
	}
	pages, ok := resp.Object("query", "pages")
	if !ok {
		return "", nil
	}
	for _, raw := range pages {
		page, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		pr := mwapi.Response(page)
		if _, invalid := pr.Lookup("invalid"); invalid {
			info := pr.String("invalidreason")
			if info == "" {
				info = "invalid title"
			}
			return "", &EditError{Target: s.target, Page: title, Kind: EditAPIError, Code: "invalidtitle", Info: info}
		}
		if _, missing := pr.Lookup("missing"); missing {
			return "", nil
		}
		return revisionText(pr), nil
	}
	return "", nil
}

// revisionText reads the first revision's content in either the legacy
// ("*") or the slot-based layout.
func revisionText(page mwapi.Response) string {
	revs, ok := page["revisions"].([]any)
	if !ok || len(revs) == 0 {
		return ""
	}
	rev, ok := revs[0].(map[string]any)
	if !ok {
		return ""
	}
	r := mwapi.Response(rev)
	if v, ok := r.Lookup("*"); ok {
		s, _ := v.(string)
		return s
	}
	if s := r.String("slots", "main", "*"); s != "" {
		return s
	}
	return r.String("slots", "main", "content")
}

func (e *Editor) csrfToken(ctx context.Context, s *Session, title string) (string, error) {
	resp, err := s.api.Get(ctx, url.Values{
		"action": {"query"},
		"meta":   {"tokens"},
		"format": {"json"},
	})
	if err != nil {
		return "", &EditError{Target: s.target, Page: title, Kind: EditTransport, Err: err}
	}
	if apiErr := resp.Err(); apiErr != nil {
		return "", &EditError{Target: s.target, Page: title, Kind: EditTokenError, Code: apiErr.Code, Info: apiErr.Info, Err: apiErr}
	}
	token := resp.String("query", "tokens", "csrftoken")
	// The anonymous token "+\" means the session is no longer logged in.
	if token == "" || token == `+\` {
		return "", &EditError{Target: s.target, Page: title, Kind: EditTokenError, Info: "missing or anonymous csrf token"}
	}
	return token, nil
}
