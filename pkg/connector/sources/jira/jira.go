// Package jira extracts issues and reference data from Jira Cloud.
package jira

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/connector/base"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

const (
	// Type is the registered connector type
	Type = "jira"

	maxResults = 100
	// maxStartAt stops offset pagination on runaway result sets
	maxStartAt = 10000
	jqlTime    = "2006-01-02 15:04"
	// maxZoneOffset widens a JQL cutoff when the user's zone is unknown
	maxZoneOffset = 14 * time.Hour
)

// endpoint describes how one table is read
type endpoint struct {
	path string
	// list is the member holding results; empty for bare arrays
	list  string
	paged bool
	query url.Values
}

var endpoints = map[string]endpoint{
	"issues":      {path: "/rest/api/3/search", list: "issues", paged: true, query: url.Values{"fields": {"*all"}}},
	"projects":    {path: "/rest/api/3/project/search", list: "values", paged: true, query: url.Values{"expand": {"description,lead,issueTypes,url,projectKeys"}}},
	"users":       {path: "/rest/api/3/users/search", paged: true},
	"workflows":   {path: "/rest/api/3/workflow/search", list: "values", paged: true},
	"statuses":    {path: "/rest/api/3/status"},
	"priorities":  {path: "/rest/api/3/priority"},
	"issue_types": {path: "/rest/api/3/issuetype"},
	"boards":      {path: "/rest/agile/1.0/board", list: "values", paged: true},
}

// Tables is the static table list
var Tables = []string{"issues", "projects", "users", "workflows", "statuses", "priorities", "issue_types", "boards"}

// Info is the catalog entry
var Info = core.ConnectorInfo{
	Type:                Type,
	DisplayName:         "Jira",
	Description:         "Jira Cloud issues, projects and workflow metadata",
	AuthType:            core.AuthTypeBasic,
	RequiredCredentials: []string{"server_url", "username", "api_token"},
	DefaultTables:       Tables,
}

// Connector extracts Jira data
type Connector struct {
	*base.BaseConnector

	mu   sync.Mutex
	zone *time.Location
}

// New creates a Jira connector authenticating with an API token
func New(tenantID int64, creds core.RawCredentials, opts core.Options) (core.Connector, error) {
	bc := base.NewBaseConnector(Type, tenantID, opts, creds["server_url"])
	if bc.BaseURL() == "" {
		return nil, errors.Missing([]string{"server_url"})
	}
	bc.SetAuth(&base.BasicAuth{Username: creds["username"], Password: creds["api_token"]})
	return &Connector{BaseConnector: bc}, nil
}

// RequiredCredentials lists the credential keys
func (c *Connector) RequiredCredentials() []string {
	return Info.RequiredCredentials
}

// TestConnection fetches the authenticated user
func (c *Connector) TestConnection(ctx context.Context) error {
	return c.Do(ctx, base.Get(c.URL("/rest/api/3/myself", nil)), nil)
}

// ListTables returns the static table list
func (c *Connector) ListTables(context.Context) ([]string, error) {
	return Tables, nil
}

// JQL builds the issue search query
func JQL(since string) string {
	if since == "" {
		return "ORDER BY updated DESC"
	}
	return `updated >= "` + since + `" ORDER BY updated DESC`
}

// Extract reads one table. Only issues support an incremental filter; the
// other tables are small reference sets read in full.
func (c *Connector) Extract(ctx context.Context, req core.ExtractRequest) ([]*core.Record, error) {
	ep, ok := endpoints[req.Table]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown jira table %q", req.Table)
	}

	query := url.Values{}
	for k, v := range ep.query {
		query[k] = v
	}
	if req.Table == "issues" {
		since := ""
		if t := c.Since(req); !t.IsZero() {
			since = c.jqlCutoff(ctx, t)
		}
		query.Set("jql", JQL(since))
	}

	if !ep.paged {
		var items []base.Raw
		if err := c.Do(ctx, base.Get(c.URL(ep.path, query)), &items); err != nil {
			return nil, err
		}
		return base.Records(items, base.FlattenOptions{Order: []string{"id", "name"}}), nil
	}

	size := c.PageSize(maxResults)
	items, err := c.Paginate(ctx, req.Table, func(ctx context.Context, page int) ([]base.Raw, bool, error) {
		startAt := page * size
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(size))

		results, total, err := c.fetch(ctx, c.URL(ep.path, q), ep.list)
		if err != nil {
			return nil, false, err
		}
		next := startAt + len(results)
		more := len(results) == size
		if total >= 0 && next >= total {
			more = false
		}
		if more && next > maxStartAt {
			return results, false, c.Capped(req.Table, next, "max_start_at", maxStartAt)
		}
		return results, more, nil
	})

	if req.Table == "issues" {
		return flattenIssues(items), err
	}
	return base.Records(items, base.FlattenOptions{Order: []string{"id", "key", "name"}}), err
}

// jqlCutoff renders since in the zone Jira applies to JQL dates, the API
// user's profile zone. An unknown zone widens the cutoff by the largest UTC
// offset instead.
func (c *Connector) jqlCutoff(ctx context.Context, since time.Time) string {
	if loc := c.userZone(ctx); loc != nil {
		return since.In(loc).Format(jqlTime)
	}
	return since.UTC().Add(-maxZoneOffset).Format(jqlTime)
}

// userZone returns the zone from the timezone option or the user profile.
// Only a resolved zone is cached.
func (c *Connector) userZone(ctx context.Context) *time.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.zone != nil {
		return c.zone
	}

	name := c.Option("timezone", "")
	if name == "" {
		var me struct {
			TimeZone string `json:"timeZone"`
		}
		if err := c.Do(ctx, base.Get(c.URL("/rest/api/3/myself", nil)), &me); err != nil {
			c.Logger().Warn("user timezone lookup failed, widening JQL cutoff", zap.Error(err))
			return nil
		}
		name = me.TimeZone
	}
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		c.Logger().Warn("unknown user timezone, widening JQL cutoff", zap.String("timezone", name), zap.Error(err))
		return nil
	}
	c.zone = loc
	return loc
}

// fetch reads one page. total is -1 when the response does not carry it.
func (c *Connector) fetch(ctx context.Context, u, list string) ([]base.Raw, int, error) {
	if list == "" {
		var items []base.Raw
		if err := c.Do(ctx, base.Get(u), &items); err != nil {
			return nil, 0, err
		}
		return items, -1, nil
	}

	var page map[string]interface{}
	if err := c.Do(ctx, base.Get(u), &page); err != nil {
		return nil, 0, err
	}
	total := -1
	if n, ok := base.Int(page["total"]); ok {
		total = n
	}
	return base.Items(page[list]), total, nil
}

// flattenIssues lifts each issue's fields next to its id, key and self link
func flattenIssues(items []base.Raw) []*core.Record {
	out := make([]*core.Record, 0, len(items))
	for _, issue := range items {
		row := base.Raw{"id": issue["id"], "key": issue["key"], "self": issue["self"]}
		if fields, ok := issue["fields"].(map[string]interface{}); ok {
			for k, v := range fields {
				if _, reserved := row[k]; reserved {
					k = "field_" + k
				}
				row[k] = v
			}
		}
		out = append(out, base.Flatten(row, base.FlattenOptions{Order: []string{"id", "key"}}))
	}
	return out
}
