// Package harvest extracts time tracking and invoicing data from Harvest v2.
package harvest

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/ajitpratap0/tributary/pkg/connector/base"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

const (
	// Type is the registered connector type
	Type = "harvest"

	defaultBaseURL = "https://api.harvestapp.com/v2"
	maxPerPage     = 2000
)

// Entities is the static table list
var Entities = []string{
	"time_entries", "projects", "clients", "tasks", "users",
	"invoices", "expenses", "estimates", "contacts", "roles",
}

var known = func() map[string]bool {
	m := make(map[string]bool, len(Entities))
	for _, e := range Entities {
		m[e] = true
	}
	return m
}()

// Info is the catalog entry
var Info = core.ConnectorInfo{
	Type:                Type,
	DisplayName:         "Harvest",
	Description:         "Harvest time entries, projects, invoices and expenses",
	AuthType:            core.AuthTypeBearer,
	RequiredCredentials: []string{"account_id", "access_token"},
	DefaultTables:       Entities,
}

// Connector extracts Harvest entities
type Connector struct {
	*base.BaseConnector
}

// New creates a Harvest connector
func New(tenantID int64, creds core.RawCredentials, opts core.Options) (core.Connector, error) {
	bc := base.NewBaseConnector(Type, tenantID, opts, defaultBaseURL)
	bc.SetAuth(base.BearerAuth(creds["access_token"]))
	bc.SetHeader("Harvest-Account-ID", creds["account_id"])
	return &Connector{BaseConnector: bc}, nil
}

// RequiredCredentials lists the credential keys
func (c *Connector) RequiredCredentials() []string {
	return Info.RequiredCredentials
}

// TestConnection fetches the authenticated user
func (c *Connector) TestConnection(ctx context.Context) error {
	return c.Do(ctx, base.Get(c.URL("/users/me", nil)), nil)
}

// ListTables returns the static entity list
func (c *Connector) ListTables(context.Context) ([]string, error) {
	return Entities, nil
}

// Extract pages an entity until total_pages. Incremental reads pass updated_since.
func (c *Connector) Extract(ctx context.Context, req core.ExtractRequest) ([]*core.Record, error) {
	if !known[req.Table] {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown harvest table %q", req.Table)
	}
	since := c.Since(req)
	perPage := c.PageSize(maxPerPage)

	items, err := c.Paginate(ctx, req.Table, func(ctx context.Context, page int) ([]base.Raw, bool, error) {
		q := url.Values{
			"page":     {strconv.Itoa(page + 1)},
			"per_page": {strconv.Itoa(perPage)},
		}
		if !since.IsZero() {
			q.Set("updated_since", since.Format(time.RFC3339))
		}
		var resp map[string]interface{}
		if err := c.Do(ctx, base.Get(c.URL("/"+req.Table, q)), &resp); err != nil {
			return nil, false, err
		}
		totalPages, ok := base.Int(resp["total_pages"])
		if !ok {
			totalPages = 1
		}
		return listOf(resp, req.Table), page+1 < totalPages, nil
	})

	return base.Records(items, base.FlattenOptions{Order: []string{"id"}}), err
}

// listOf returns the entity array of a page: the member named after the
// table, otherwise the first array member other than links
func listOf(resp map[string]interface{}, table string) []base.Raw {
	if v, ok := resp[table].([]interface{}); ok {
		return base.Items(v)
	}
	keys := make([]string, 0, len(resp))
	for k := range resp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "links" {
			continue
		}
		if v, ok := resp[k].([]interface{}); ok {
			return base.Items(v)
		}
	}
	return nil
}
