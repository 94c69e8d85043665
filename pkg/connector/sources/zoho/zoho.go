// Package zoho extracts Zoho CRM modules and Zoho Books entities with one
// OAuth grant. Table names carry the product prefix: crm_deals, books_invoices.
package zoho

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ajitpratap0/tributary/pkg/clients"
	"github.com/ajitpratap0/tributary/pkg/connector/base"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

const (
	// Type is the registered connector type
	Type = "zoho"

	crmPrefix   = "crm_"
	booksPrefix = "books_"
	maxPerPage  = 200
	tokenPath   = "/oauth/v2/token"
	authScheme  = "Zoho-oauthtoken"
)

// crmModules maps table names to CRM API module names and the fields requested
var crmModules = map[string]struct {
	module string
	fields []string
}{
	"crm_deals": {"Deals", []string{
		"Deal_Name", "Amount", "Stage", "Probability", "Closing_Date",
		"Account_Name", "Contact_Name", "Owner", "Created_Time", "Modified_Time",
	}},
	"crm_contacts": {"Contacts", []string{
		"First_Name", "Last_Name", "Email", "Phone", "Account_Name", "Owner", "Created_Time", "Modified_Time",
	}},
	"crm_accounts": {"Accounts", []string{
		"Account_Name", "Phone", "Website", "Industry", "Annual_Revenue", "Owner", "Created_Time", "Modified_Time",
	}},
	"crm_leads": {"Leads", []string{
		"First_Name", "Last_Name", "Email", "Phone", "Company", "Lead_Status", "Owner", "Created_Time", "Modified_Time",
	}},
	"crm_tasks": {"Tasks", []string{
		"Subject", "Status", "Priority", "Due_Date", "What_Id", "Owner", "Created_Time", "Modified_Time",
	}},
}

// Tables is the static table list
var Tables = []string{
	"crm_deals", "crm_contacts", "crm_accounts", "crm_leads", "crm_tasks",
	"books_invoices", "books_customers", "books_items", "books_expenses",
}

// booksEntities maps Books entities to their id field
var booksEntities = map[string]string{
	"invoices":  "invoice_id",
	"customers": "contact_id",
	"items":     "item_id",
	"expenses":  "expense_id",
}

// Info is the catalog entry
var Info = core.ConnectorInfo{
	Type:                Type,
	DisplayName:         "Zoho",
	Description:         "Zoho CRM modules and Zoho Books entities",
	AuthType:            core.AuthTypeOAuth2,
	RequiredCredentials: []string{"access_token", "refresh_token", "datacenter", "client_id", "client_secret"},
	OptionalCredentials: []string{"organization_id"},
	DefaultTables:       Tables,
}

// Connector extracts Zoho data
type Connector struct {
	*base.BaseConnector
	booksURL string
	orgID    string
}

// New creates a Zoho connector for the account's datacenter (com, eu, in, com.au, ...)
func New(tenantID int64, creds core.RawCredentials, opts core.Options) (core.Connector, error) {
	dc := creds["datacenter"]
	if dc == "" {
		dc = "com"
	}

	bc := base.NewBaseConnector(Type, tenantID, opts, "https://www.zohoapis."+dc)
	booksURL := "https://books.zohoapis." + dc
	accountsURL := "https://accounts.zoho." + dc
	if opts.BaseURL != "" {
		booksURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.AuthURL != "" {
		accountsURL = strings.TrimRight(opts.AuthURL, "/")
	}

	oc := clients.NewOAuth2Client(clients.OAuth2Config{
		Name:         Type,
		ClientID:     creds["client_id"],
		ClientSecret: creds["client_secret"],
		TokenURL:     accountsURL + tokenPath,
		AuthStyle:    oauth2.AuthStyleInParams,
	}, base.SeedToken(creds), bc.HTTPClient(), opts.Logger)
	oc.OnTokenRefresh(base.TokenWriteBack(creds, opts.OnTokenRefresh))
	bc.SetAuth(&base.OAuthRefreshAuth{Client: oc, Scheme: authScheme})

	return &Connector{BaseConnector: bc, booksURL: booksURL, orgID: creds["organization_id"]}, nil
}

// RequiredCredentials lists the credential keys
func (c *Connector) RequiredCredentials() []string {
	return Info.RequiredCredentials
}

// TestConnection reads the CRM organization
func (c *Connector) TestConnection(ctx context.Context) error {
	return c.Do(ctx, base.Get(c.URL("/crm/v6/org", nil)), nil)
}

// ListTables returns the static table list
func (c *Connector) ListTables(context.Context) ([]string, error) {
	return Tables, nil
}

// Extract dispatches on the table prefix
func (c *Connector) Extract(ctx context.Context, req core.ExtractRequest) ([]*core.Record, error) {
	switch {
	case strings.HasPrefix(req.Table, crmPrefix):
		return c.extractCRM(ctx, req)
	case strings.HasPrefix(req.Table, booksPrefix):
		return c.extractBooks(ctx, req)
	}
	return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown zoho table %q", req.Table)
}

type crmPage struct {
	Data []base.Raw `json:"data"`
	Info struct {
		MoreRecords bool `json:"more_records"`
	} `json:"info"`
}

// extractCRM pages a CRM module. Incremental reads use If-Modified-Since.
func (c *Connector) extractCRM(ctx context.Context, req core.ExtractRequest) ([]*core.Record, error) {
	mod, ok := crmModules[req.Table]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown zoho table %q", req.Table)
	}
	headers := map[string]string{}
	if since := c.Since(req); !since.IsZero() {
		headers["If-Modified-Since"] = since.Format(time.RFC3339)
	}

	items, err := c.Paginate(ctx, req.Table, func(ctx context.Context, page int) ([]base.Raw, bool, error) {
		q := url.Values{
			"page":     {strconv.Itoa(page + 1)},
			"per_page": {strconv.Itoa(c.PageSize(maxPerPage))},
			"fields":   {strings.Join(mod.fields, ",")},
		}
		r := base.Get(c.URL("/crm/v6/"+mod.module, q))
		r.Headers = headers
		var resp crmPage
		// 304 and 204 carry no body and mean nothing changed
		if err := c.Do(ctx, r, &resp); err != nil {
			return nil, false, err
		}
		return resp.Data, resp.Info.MoreRecords, nil
	})

	return base.Records(items, base.FlattenOptions{Order: []string{"id"}}), err
}

// extractBooks pages a Books entity. The list endpoints have no modified-since
// filter, so incremental reads drop rows older than the watermark.
func (c *Connector) extractBooks(ctx context.Context, req core.ExtractRequest) ([]*core.Record, error) {
	entity := strings.TrimPrefix(req.Table, booksPrefix)
	idField, ok := booksEntities[entity]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown zoho table %q", req.Table)
	}
	since := c.Since(req)

	items, err := c.Paginate(ctx, req.Table, func(ctx context.Context, page int) ([]base.Raw, bool, error) {
		q := url.Values{
			"page":     {strconv.Itoa(page + 1)},
			"per_page": {strconv.Itoa(c.PageSize(maxPerPage))},
		}
		if c.orgID != "" {
			q.Set("organization_id", c.orgID)
		}
		var resp map[string]interface{}
		if err := c.Do(ctx, base.Get(c.URL(c.booksURL+"/api/v3/"+entity, q)), &resp); err != nil {
			return nil, false, err
		}
		more := false
		if pc, ok := resp["page_context"].(map[string]interface{}); ok {
			more, _ = pc["has_more_page"].(bool)
		}
		return base.Items(resp[entity]), more, nil
	})

	if !since.IsZero() {
		kept := items[:0]
		for _, it := range items {
			if modifiedSince(it, since) {
				kept = append(kept, it)
			}
		}
		items = kept
	}
	return base.Records(items, base.FlattenOptions{Order: []string{idField}}), err
}

// modifiedSince keeps rows without a parsable last_modified_time
func modifiedSince(item base.Raw, since time.Time) bool {
	s, ok := item["last_modified_time"].(string)
	if !ok {
		return true
	}
	ts, ok := base.ParseTimestamp(s)
	return !ok || !ts.Before(since)
}
