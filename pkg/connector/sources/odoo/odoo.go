// Package odoo extracts ERP models from Odoo over JSON-RPC.
//
// Two modes are supported. With an access_token the connector sends bearer
// authenticated model calls. With username and password it logs in through
// the common service and issues object.execute_kw calls with the returned uid.
package odoo

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/connector/base"
	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

const (
	// Type is the registered connector type
	Type = "odoo"

	maxPageSize = 200
	// odooTime is the server-side datetime format, always UTC
	odooTime = "2006-01-02 15:04:05"
)

// Models maps table names to Odoo model names
var Models = map[string]string{
	"sale_order":      "sale.order",
	"account_move":    "account.move",
	"stock_move":      "stock.move",
	"purchase_order":  "purchase.order",
	"res_partner":     "res.partner",
	"product_product": "product.product",
	"hr_employee":     "hr.employee",
	"project_project": "project.project",
	"crm_lead":        "crm.lead",
}

// Tables is the static table list
var Tables = []string{
	"sale_order", "account_move", "stock_move", "purchase_order", "res_partner",
	"product_product", "hr_employee", "project_project", "crm_lead",
}

var modelFields = map[string][]string{
	"sale.order": {
		"id", "name", "partner_id", "date_order", "state", "amount_total", "amount_untaxed",
		"currency_id", "user_id", "team_id", "create_date", "write_date",
	},
	"account.move": {
		"id", "name", "partner_id", "invoice_date", "state", "move_type", "amount_total",
		"amount_untaxed", "amount_residual", "currency_id", "payment_state", "create_date", "write_date",
	},
	"stock.move": {
		"id", "name", "product_id", "product_uom_qty", "state", "date", "location_id",
		"location_dest_id", "picking_id", "create_date", "write_date",
	},
	"res.partner": {
		"id", "name", "is_company", "customer_rank", "supplier_rank", "country_id", "city",
		"phone", "email", "active", "create_date", "write_date",
	},
	"product.product": {
		"id", "name", "default_code", "list_price", "standard_price", "qty_available",
		"virtual_available", "categ_id", "active", "create_date", "write_date",
	},
	"crm.lead": {
		"id", "name", "partner_id", "expected_revenue", "probability", "stage_id", "user_id",
		"team_id", "create_date", "write_date", "date_closed", "type",
	},
	"hr.employee": {
		"id", "name", "work_email", "job_id", "department_id", "parent_id", "active", "create_date", "write_date",
	},
	"project.project": {
		"id", "name", "user_id", "partner_id", "date_start", "date", "stage_id", "active", "create_date", "write_date",
	},
	"purchase.order": {
		"id", "name", "partner_id", "date_order", "state", "amount_total", "amount_untaxed",
		"currency_id", "user_id", "create_date", "write_date",
	},
}

var defaultFields = []string{"id", "name", "create_date", "write_date"}

// Info is the catalog entry
var Info = core.ConnectorInfo{
	Type:                Type,
	DisplayName:         "Odoo",
	Description:         "Odoo ERP sales, accounting, inventory and CRM models",
	AuthType:            core.AuthTypeSession,
	RequiredCredentials: []string{"odoo_instance_url", "database"},
	OptionalCredentials: []string{"access_token", "username", "password"},
	DefaultTables:       Tables,
}

// Connector extracts Odoo models
type Connector struct {
	*base.BaseConnector
	database string
	username string
	password string

	loginMu sync.Mutex
	uid     int
	closed  bool
	rpcID   int64
}

// New creates an Odoo connector. Either access_token or username and
// password must be present.
func New(tenantID int64, creds core.RawCredentials, opts core.Options) (core.Connector, error) {
	bc := base.NewBaseConnector(Type, tenantID, opts, creds["odoo_instance_url"])
	c := &Connector{BaseConnector: bc, database: creds["database"]}

	switch {
	case creds["access_token"] != "":
		bc.SetAuth(base.BearerAuth(creds["access_token"]))
	case creds["username"] != "" && creds["password"] != "":
		c.username = creds["username"]
		c.password = creds["password"]
	default:
		return nil, errors.Missing([]string{"access_token"})
	}
	return c, nil
}

// RequiredCredentials lists the credential keys
func (c *Connector) RequiredCredentials() []string {
	return Info.RequiredCredentials
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

type rpcResponse struct {
	Result interface{} `json:"result"`
	Error  *rpcError   `json:"error"`
}

// call posts one JSON-RPC request to /jsonrpc and returns its result
func (c *Connector) call(ctx context.Context, params interface{}) (interface{}, error) {
	req := rpcRequest{JSONRPC: "2.0", Method: "call", Params: params, ID: atomic.AddInt64(&c.rpcID, 1)}
	var resp rpcResponse
	if err := c.Do(ctx, base.Post(c.URL("/jsonrpc", nil), req), &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, rpcFailure(resp.Error)
	}
	return resp.Result, nil
}

// rpcFailure maps an Odoo exception onto the error taxonomy
func rpcFailure(e *rpcError) error {
	msg := e.Data.Message
	if msg == "" {
		msg = e.Message
	}
	errType := errors.ErrorTypeQuery
	switch {
	case strings.Contains(e.Data.Name, "AccessDenied"), strings.Contains(e.Data.Name, "SessionExpired"):
		errType = errors.ErrorTypeAuthentication
	case strings.Contains(e.Data.Name, "AccessError"):
		errType = errors.ErrorTypeAuthentication
	}
	return errors.New(errType, "odoo: "+msg).WithDetail("exception", e.Data.Name).WithDetail("code", e.Code)
}

func (c *Connector) service(ctx context.Context, service, method string, args ...interface{}) (interface{}, error) {
	if args == nil {
		args = []interface{}{}
	}
	return c.call(ctx, map[string]interface{}{"service": service, "method": method, "args": args})
}

// login resolves the uid for database login mode, with the password the
// uid is valid for
func (c *Connector) login(ctx context.Context) (int, string, error) {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.closed {
		return 0, "", errors.New(errors.ErrorTypeConfig, "odoo: connector closed")
	}
	if c.uid != 0 {
		return c.uid, c.password, nil
	}
	result, err := c.service(ctx, "common", "login", c.database, c.username, c.password)
	if err != nil {
		return 0, "", err
	}
	// a rejected login returns false rather than an error
	uid, ok := base.Int(result)
	if !ok || uid == 0 {
		return 0, "", errors.New(errors.ErrorTypeAuthentication, core.MsgAuthFailed)
	}
	c.uid = uid
	c.Logger().Info("logged in to odoo", zap.String("database", c.database), zap.Int("uid", uid))
	return uid, c.password, nil
}

// Close drops the logged in uid and the password it was obtained with. A
// closed login mode connector refuses further model calls.
func (c *Connector) Close(context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.closed || c.username == "" {
		return nil
	}
	c.closed = true
	c.uid = 0
	c.password = ""
	c.Logger().Debug("odoo session closed", zap.String("database", c.database))
	return nil
}

// model invokes method on model in whichever mode the connector runs in
func (c *Connector) model(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if c.username == "" {
		return c.call(ctx, map[string]interface{}{
			"model": model, "method": method, "args": args, "kwargs": kwargs,
		})
	}
	uid, password, err := c.login(ctx)
	if err != nil {
		return nil, err
	}
	return c.service(ctx, "object", "execute_kw", c.database, uid, password, model, method, args, kwargs)
}

// TestConnection asks the server for its version, and logs in when using
// database credentials
func (c *Connector) TestConnection(ctx context.Context) error {
	result, err := c.service(ctx, "common", "version")
	if err != nil {
		return err
	}
	info, ok := result.(map[string]interface{})
	if !ok || info["server_version"] == nil {
		return errors.New(errors.ErrorTypeConnection, "unexpected version response")
	}
	if c.username != "" {
		_, _, err = c.login(ctx)
	}
	return err
}

// ListTables returns the static model list
func (c *Connector) ListTables(context.Context) ([]string, error) {
	return Tables, nil
}

// Domain builds the search domain for an extraction
func Domain(since time.Time) []interface{} {
	if since.IsZero() {
		return []interface{}{}
	}
	return []interface{}{[]interface{}{"write_date", ">=", since.UTC().Format(odooTime)}}
}

// Extract pages search_read with offset and limit
func (c *Connector) Extract(ctx context.Context, req core.ExtractRequest) ([]*core.Record, error) {
	model, ok := Models[req.Table]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown odoo table %q", req.Table)
	}
	fields, ok := modelFields[model]
	if !ok {
		fields = defaultFields
	}
	domain := Domain(c.Since(req))
	limit := c.PageSize(maxPageSize)

	items, err := c.Paginate(ctx, req.Table, func(ctx context.Context, page int) ([]base.Raw, bool, error) {
		result, err := c.model(ctx, model, "search_read", []interface{}{domain}, map[string]interface{}{
			"fields": fields,
			"offset": page * limit,
			"limit":  limit,
			"order":  "id asc",
		})
		if err != nil {
			return nil, false, err
		}
		rows := base.Items(result)
		return rows, len(rows) == limit, nil
	})

	out := make([]*core.Record, 0, len(items))
	for _, it := range items {
		out = append(out, base.Flatten(clearEmptyRefs(it), base.FlattenOptions{Order: []string{"id", "name"}, PairRefs: true}))
	}
	return out, err
}

// clearEmptyRefs turns Odoo's false placeholder for unset relations into null
func clearEmptyRefs(item base.Raw) base.Raw {
	for k, v := range item {
		if b, ok := v.(bool); ok && !b && (strings.HasSuffix(k, "_id") || strings.HasSuffix(k, "_ids")) {
			item[k] = nil
		}
	}
	return item
}
