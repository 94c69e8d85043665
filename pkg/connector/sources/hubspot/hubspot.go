// Package hubspot extracts CRM objects from the HubSpot v3 API.
package hubspot

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/tributary/pkg/clients"
	"github.com/ajitpratap0/tributary/pkg/connector/base"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
)

const (
	// Type is the registered connector type
	Type = "hubspot"

	defaultBaseURL = "https://api.hubapi.com"
	tokenPath      = "/oauth/v1/token"
	maxPageSize    = 100
	maxProperties  = 50
)

// DefaultObjects are the standard CRM objects synced when discovery fails
var DefaultObjects = []string{
	"contacts", "companies", "deals", "tickets", "products", "line_items",
	"quotes", "calls", "emails", "meetings", "notes", "tasks",
}

var fallbackProperties = []string{"createdate", "lastmodifieddate", "hs_lastmodifieddate", "name"}

// Info is the catalog entry
var Info = core.ConnectorInfo{
	Type:                Type,
	DisplayName:         "HubSpot",
	Description:         "HubSpot CRM objects, including custom objects",
	AuthType:            core.AuthTypeBearer,
	RequiredCredentials: []string{"access_token"},
	OptionalCredentials: []string{"refresh_token", "client_id", "client_secret"},
	DefaultTables:       DefaultObjects,
}

// Connector extracts HubSpot CRM objects
type Connector struct {
	*base.BaseConnector
}

// New creates a HubSpot connector. A private app token is used as is; when
// refresh_token, client_id and client_secret are present the token is
// refreshed on 401 and written back.
func New(tenantID int64, creds core.RawCredentials, opts core.Options) (core.Connector, error) {
	bc := base.NewBaseConnector(Type, tenantID, opts, defaultBaseURL)

	if creds["refresh_token"] != "" && creds["client_id"] != "" && creds["client_secret"] != "" {
		authURL := opts.AuthURL
		if authURL == "" {
			authURL = defaultBaseURL
		}
		oc := clients.NewOAuth2Client(clients.OAuth2Config{
			Name:         Type,
			ClientID:     creds["client_id"],
			ClientSecret: creds["client_secret"],
			TokenURL:     strings.TrimRight(authURL, "/") + tokenPath,
			AuthStyle:    oauth2.AuthStyleInParams,
		}, base.SeedToken(creds), bc.HTTPClient(), opts.Logger)
		oc.OnTokenRefresh(base.TokenWriteBack(creds, opts.OnTokenRefresh))
		bc.SetAuth(&base.OAuthRefreshAuth{Client: oc})
	} else {
		bc.SetAuth(base.BearerAuth(creds["access_token"]))
	}

	return &Connector{BaseConnector: bc}, nil
}

// RequiredCredentials lists the credential keys
func (c *Connector) RequiredCredentials() []string {
	return Info.RequiredCredentials
}

// TestConnection reads a single contact
func (c *Connector) TestConnection(ctx context.Context) error {
	return c.Do(ctx, base.Get(c.URL("/crm/v3/objects/contacts", url.Values{"limit": {"1"}})), nil)
}

type schemasResponse struct {
	Results []struct {
		Name string `json:"name"`
	} `json:"results"`
}

// ListTables returns the standard objects plus any custom object schemas
func (c *Connector) ListTables(ctx context.Context) ([]string, error) {
	tables := append([]string(nil), DefaultObjects...)

	var resp schemasResponse
	if err := c.Do(ctx, base.Get(c.URL("/crm/v3/schemas", nil)), &resp); err != nil {
		c.Logger().Warn("custom object discovery failed, using defaults", zap.Error(err))
		return tables, nil
	}
	for _, s := range resp.Results {
		if s.Name != "" {
			tables = append(tables, s.Name)
		}
	}
	return tables, nil
}

// properties returns up to maxProperties property names of an object
func (c *Connector) properties(ctx context.Context, object string) []string {
	var resp schemasResponse
	if err := c.Do(ctx, base.Get(c.URL("/crm/v3/properties/"+url.PathEscape(object), nil)), &resp); err != nil {
		c.Logger().Warn("property discovery failed, using fallback", zap.String("object", object), zap.Error(err))
		return fallbackProperties
	}
	props := make([]string, 0, len(resp.Results))
	for _, p := range resp.Results {
		props = append(props, p.Name)
		if len(props) == maxProperties {
			break
		}
	}
	if len(props) == 0 {
		return fallbackProperties
	}
	return props
}

type objectsPage struct {
	Results []base.Raw `json:"results"`
	Paging  struct {
		Next struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

// Extract pages through an object. Incremental extraction uses the search
// endpoint filtered on the last-modified property.
func (c *Connector) Extract(ctx context.Context, req core.ExtractRequest) ([]*core.Record, error) {
	object := req.Table
	props := c.properties(ctx, object)
	since := c.Since(req)
	size := c.PageSize(maxPageSize)
	after := ""

	items, err := c.Paginate(ctx, object, func(ctx context.Context, _ int) ([]base.Raw, bool, error) {
		var page objectsPage
		var err error
		if since.IsZero() {
			q := url.Values{
				"limit":      {strconv.Itoa(size)},
				"properties": {strings.Join(props, ",")},
			}
			if after != "" {
				q.Set("after", after)
			}
			err = c.Do(ctx, base.Get(c.URL("/crm/v3/objects/"+url.PathEscape(object), q)), &page)
		} else {
			body := map[string]interface{}{
				"limit":      size,
				"properties": props,
				"filterGroups": []map[string]interface{}{{
					"filters": []map[string]interface{}{{
						"propertyName": modifiedProperty(object),
						"operator":     "GTE",
						"value":        strconv.FormatInt(since.UnixMilli(), 10),
					}},
				}},
			}
			if after != "" {
				body["after"] = after
			}
			err = c.Do(ctx, base.Post(c.URL("/crm/v3/objects/"+url.PathEscape(object)+"/search", nil), body), &page)
		}
		if err != nil {
			return nil, false, err
		}
		after = page.Paging.Next.After
		return page.Results, after != "", nil
	})

	return flatten(items), err
}

// modifiedProperty names the last-modified property used by search filters
func modifiedProperty(object string) string {
	if object == "contacts" {
		return "lastmodifieddate"
	}
	return "hs_lastmodifieddate"
}

// flatten lifts the properties bag to top-level columns
func flatten(items []base.Raw) []*core.Record {
	out := make([]*core.Record, 0, len(items))
	for _, it := range items {
		row := base.Raw{"id": it["id"]}
		for _, k := range []string{"createdAt", "updatedAt", "archived"} {
			if v, ok := it[k]; ok {
				row[k] = v
			}
		}
		if props, ok := it["properties"].(map[string]interface{}); ok {
			for k, v := range props {
				if k == "hs_object_id" {
					continue
				}
				row[k] = v
			}
		}
		out = append(out, base.Flatten(row, base.FlattenOptions{}))
	}
	return out
}
