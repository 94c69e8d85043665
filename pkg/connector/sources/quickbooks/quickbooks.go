// Package quickbooks extracts accounting entities from the QuickBooks Online API.
package quickbooks

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ajitpratap0/tributary/pkg/clients"
	"github.com/ajitpratap0/tributary/pkg/connector/base"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
)

const (
	// Type is the registered connector type
	Type = "quickbooks"

	productionURL = "https://quickbooks.api.intuit.com"
	sandboxURL    = "https://sandbox-quickbooks.api.intuit.com"
	authURL       = "https://oauth.platform.intuit.com"
	tokenPath     = "/oauth2/v1/tokens/bearer"
	maxResults    = 1000
)

// Entities is the static table list
var Entities = []string{
	"Invoice", "Customer", "Item", "Payment", "Bill", "Vendor",
	"Purchase", "Account", "Employee", "Estimate",
}

// Info is the catalog entry
var Info = core.ConnectorInfo{
	Type:                Type,
	DisplayName:         "QuickBooks Online",
	Description:         "QuickBooks Online accounting entities",
	AuthType:            core.AuthTypeOAuth2,
	RequiredCredentials: []string{"client_id", "client_secret", "realm_id", "access_token", "refresh_token"},
	DefaultTables:       Entities,
}

// Connector extracts QuickBooks entities
type Connector struct {
	*base.BaseConnector
	realm string
}

// New creates a QuickBooks connector. The "environment" option selects the
// sandbox API when set to "sandbox".
func New(tenantID int64, creds core.RawCredentials, opts core.Options) (core.Connector, error) {
	apiURL := productionURL
	if opts.Config["environment"] == "sandbox" {
		apiURL = sandboxURL
	}
	bc := base.NewBaseConnector(Type, tenantID, opts, apiURL)

	tokenBase := authURL
	if opts.AuthURL != "" {
		tokenBase = strings.TrimRight(opts.AuthURL, "/")
	}
	oc := clients.NewOAuth2Client(clients.OAuth2Config{
		Name:         Type,
		ClientID:     creds["client_id"],
		ClientSecret: creds["client_secret"],
		TokenURL:     tokenBase + tokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}, base.SeedToken(creds), bc.HTTPClient(), opts.Logger)
	oc.OnTokenRefresh(base.TokenWriteBack(creds, opts.OnTokenRefresh))
	bc.SetAuth(&base.OAuthRefreshAuth{Client: oc})

	return &Connector{BaseConnector: bc, realm: creds["realm_id"]}, nil
}

// RequiredCredentials lists the credential keys
func (c *Connector) RequiredCredentials() []string {
	return Info.RequiredCredentials
}

func (c *Connector) companyURL(path string, q url.Values) string {
	return c.URL("/v3/company/"+url.PathEscape(c.realm)+path, q)
}

// TestConnection reads the company info record
func (c *Connector) TestConnection(ctx context.Context) error {
	return c.Do(ctx, base.Get(c.companyURL("/companyinfo/"+url.PathEscape(c.realm), nil)), nil)
}

// ListTables returns the static entity list
func (c *Connector) ListTables(context.Context) ([]string, error) {
	return Entities, nil
}

// Query builds one page of size rows of the entity query. QuickBooks positions
// are 1-based.
func Query(entity string, since time.Time, start, size int) string {
	q := "SELECT * FROM " + entity
	if !since.IsZero() {
		q += fmt.Sprintf(" WHERE MetaData.LastUpdatedTime >= '%s'", since.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s STARTPOSITION %d MAXRESULTS %d", q, start, size)
}

type queryResponse struct {
	QueryResponse map[string]interface{} `json:"QueryResponse"`
}

// Extract pages through an entity with STARTPOSITION/MAXRESULTS
func (c *Connector) Extract(ctx context.Context, req core.ExtractRequest) ([]*core.Record, error) {
	since := c.Since(req)
	size := c.PageSize(maxResults)

	items, err := c.Paginate(ctx, req.Table, func(ctx context.Context, page int) ([]base.Raw, bool, error) {
		q := url.Values{
			"query":        {Query(req.Table, since, page*size+1, size)},
			"minorversion": {"65"},
		}
		var resp queryResponse
		if err := c.Do(ctx, base.Get(c.companyURL("/query", q)), &resp); err != nil {
			return nil, false, err
		}
		records := base.Items(resp.QueryResponse[req.Table])
		return records, len(records) == size, nil
	})

	out := make([]*core.Record, 0, len(items))
	for _, it := range items {
		out = append(out, base.Flatten(normalize(it), base.FlattenOptions{Order: []string{"Id"}}))
	}
	return out, err
}

// normalize lifts MetaData timestamps and gives *Ref objects an id member so
// they flatten to <f>_id and <f>_name.
func normalize(item base.Raw) base.Raw {
	row := make(base.Raw, len(item)+2)
	for k, v := range item {
		m, isMap := v.(map[string]interface{})
		switch {
		case k == "MetaData" && isMap:
			row["created_time"] = m["CreateTime"]
			row["last_updated_time"] = m["LastUpdatedTime"]
		case isMap && strings.HasSuffix(k, "Ref"):
			ref := make(map[string]interface{}, len(m)+1)
			for rk, rv := range m {
				ref[rk] = rv
			}
			if val, ok := m["value"]; ok {
				ref["id"] = val
			}
			row[k] = ref
		default:
			row[k] = v
		}
	}
	return row
}
