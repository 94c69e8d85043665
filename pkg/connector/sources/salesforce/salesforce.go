// Package salesforce extracts sObjects through the Salesforce REST API.
//
// The connector logs in with the OAuth password grant (password followed by
// the security token) and repeats the login when a session expires. The
// instance URL returned by the login replaces the configured one.
package salesforce

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/tributary/pkg/clients"
	"github.com/ajitpratap0/tributary/pkg/connector/base"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
)

const (
	// Type is the registered connector type
	Type = "salesforce"

	defaultLoginURL = "https://login.salesforce.com"
	apiVersion      = "v57.0"
	maxObjects      = 20
	maxFields       = 50
	maxRows         = 10000
	// batch sizes accepted by Sforce-Query-Options
	minBatchSize = 200
	maxBatchSize = 2000
)

// DefaultObjects are synced when sObject discovery fails
var DefaultObjects = []string{
	"Account", "Contact", "Lead", "Opportunity", "User", "Task", "Event",
	"Case", "Product2", "Pricebook2", "PricebookEntry", "Quote", "Contract",
	"Campaign", "CampaignMember", "OpportunityLineItem",
}

var fallbackFields = []string{"Id", "Name", "CreatedDate", "LastModifiedDate"}

// Info is the catalog entry
var Info = core.ConnectorInfo{
	Type:                Type,
	DisplayName:         "Salesforce",
	Description:         "Salesforce sObjects via SOQL",
	AuthType:            core.AuthTypePassword,
	RequiredCredentials: []string{"client_id", "client_secret", "username", "password", "security_token", "instance_url"},
	DefaultTables:       DefaultObjects,
}

// Connector extracts Salesforce sObjects
type Connector struct {
	*base.BaseConnector
	auth *base.PasswordGrantAuth
}

// New creates a Salesforce connector
func New(tenantID int64, creds core.RawCredentials, opts core.Options) (core.Connector, error) {
	loginURL := creds["instance_url"]
	if opts.AuthURL != "" {
		loginURL = opts.AuthURL
	}
	if loginURL == "" {
		loginURL = defaultLoginURL
	}
	loginURL = strings.TrimRight(loginURL, "/")

	bc := base.NewBaseConnector(Type, tenantID, opts, loginURL)
	oc := clients.NewOAuth2Client(clients.OAuth2Config{
		Name:         Type,
		ClientID:     creds["client_id"],
		ClientSecret: creds["client_secret"],
		TokenURL:     loginURL + "/services/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}, nil, bc.HTTPClient(), opts.Logger)

	c := &Connector{BaseConnector: bc}
	c.auth = &base.PasswordGrantAuth{
		Client:   oc,
		Username: creds["username"],
		Password: creds["password"] + creds["security_token"],
		OnToken: func(tok *oauth2.Token) {
			if instance := clients.TokenExtra(tok, "instance_url"); instance != "" {
				bc.SetBaseURL(instance)
			}
		},
	}
	bc.SetAuth(c.auth)
	return c, nil
}

// RequiredCredentials lists the credential keys
func (c *Connector) RequiredCredentials() []string {
	return Info.RequiredCredentials
}

func (c *Connector) dataURL(path string, q url.Values) string {
	return c.URL("/services/data/"+apiVersion+path, q)
}

// TestConnection logs in and runs a one-row query
func (c *Connector) TestConnection(ctx context.Context) error {
	if err := c.auth.Login(ctx); err != nil {
		return err
	}
	_, err := c.query(ctx, c.dataURL("/query", url.Values{"q": {"SELECT Id FROM Account LIMIT 1"}}))
	return err
}

type sobjectsResponse struct {
	SObjects []struct {
		Name       string `json:"name"`
		Queryable  bool   `json:"queryable"`
		Createable bool   `json:"createable"`
	} `json:"sobjects"`
}

// ListTables discovers queryable business objects, falling back to the defaults
func (c *Connector) ListTables(ctx context.Context) ([]string, error) {
	if err := c.auth.Login(ctx); err != nil {
		c.Logger().Warn("login failed, using default objects", zap.Error(err))
		return DefaultObjects, nil
	}

	var resp sobjectsResponse
	if err := c.Do(ctx, base.Get(c.dataURL("/sobjects", nil)), &resp); err != nil {
		c.Logger().Warn("sObject discovery failed, using defaults", zap.Error(err))
		return DefaultObjects, nil
	}

	var objects []string
	for _, o := range resp.SObjects {
		if !o.Queryable || !o.Createable ||
			strings.HasSuffix(o.Name, "__History") ||
			strings.HasSuffix(o.Name, "__Share") ||
			strings.HasPrefix(o.Name, "Setup") {
			continue
		}
		objects = append(objects, o.Name)
		if len(objects) == maxObjects {
			break
		}
	}
	if len(objects) == 0 {
		return DefaultObjects, nil
	}
	return objects, nil
}

type describeResponse struct {
	Fields []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"fields"`
}

// fields returns up to maxFields queryable field names. Compound address and
// location fields cannot be selected alongside their components.
func (c *Connector) fields(ctx context.Context, object string) []string {
	var resp describeResponse
	if err := c.Do(ctx, base.Get(c.dataURL("/sobjects/"+url.PathEscape(object)+"/describe", nil)), &resp); err != nil {
		c.Logger().Warn("describe failed, using fallback fields", zap.String("object", object), zap.Error(err))
		return fallbackFields
	}
	var fields []string
	for _, f := range resp.Fields {
		if f.Type == "address" || f.Type == "location" {
			continue
		}
		fields = append(fields, f.Name)
		if len(fields) == maxFields {
			break
		}
	}
	if len(fields) == 0 {
		return fallbackFields
	}
	return fields
}

type queryResponse struct {
	TotalSize      int        `json:"totalSize"`
	Done           bool       `json:"done"`
	NextRecordsURL string     `json:"nextRecordsUrl"`
	Records        []base.Raw `json:"records"`
}

func (c *Connector) query(ctx context.Context, u string) (*queryResponse, error) {
	r := base.Get(u)
	if n := c.Limits().PageSize; n > 0 {
		n = max(minBatchSize, min(n, maxBatchSize))
		r.Headers = map[string]string{"Sforce-Query-Options": "batchSize=" + strconv.Itoa(n)}
	}
	var resp queryResponse
	if err := c.Do(ctx, r, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SOQL builds the extraction query for an object
func SOQL(object string, fields []string, since time.Time) string {
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(fields, ", "), object)
	if !since.IsZero() {
		q += " WHERE LastModifiedDate >= " + since.UTC().Format("2006-01-02T15:04:05Z")
	}
	return q + fmt.Sprintf(" ORDER BY LastModifiedDate DESC LIMIT %d", maxRows)
}

// Extract runs a SOQL query and follows nextRecordsUrl continuations
func (c *Connector) Extract(ctx context.Context, req core.ExtractRequest) ([]*core.Record, error) {
	if err := c.auth.Login(ctx); err != nil {
		return nil, err
	}

	soql := SOQL(req.Table, c.fields(ctx, req.Table), c.Since(req))
	c.Logger().Debug("executing query", zap.String("soql", soql))

	next := c.dataURL("/query", url.Values{"q": {soql}})
	items, err := c.Paginate(ctx, req.Table, func(ctx context.Context, _ int) ([]base.Raw, bool, error) {
		resp, err := c.query(ctx, next)
		if err != nil {
			return nil, false, err
		}
		// continuation links are paths relative to the instance
		next = c.URL(resp.NextRecordsURL, nil)
		return resp.Records, !resp.Done && resp.NextRecordsURL != "", nil
	})
	// the query LIMIT truncates silently; a full result may hide older rows
	if err == nil && len(items) >= maxRows {
		err = c.Capped(req.Table, len(items), "soql_limit", maxRows)
	}

	return base.Records(items, base.FlattenOptions{
		Order: []string{"Id"},
		Drop:  []string{"attributes"},
	}), err
}
