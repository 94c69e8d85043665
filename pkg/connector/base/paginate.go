package base

import (
	"context"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tributary/pkg/connector/core"
	"github.com/ajitpratap0/tributary/pkg/errors"
)

// Raw is one decoded API object
type Raw = map[string]interface{}

// FetchFunc fetches page number page (starting at zero) and reports whether
// another page follows. Cursor state lives in the caller's closure.
type FetchFunc func(ctx context.Context, page int) (items []Raw, more bool, err error)

// Paginate calls fetch until it reports no more pages or a limit is reached.
// Reaching MaxPages or MaxRecords keeps the records read so far and returns
// an error of type capped, so callers can tell a bounded read from a complete
// one. A failure on the first page is returned as is; a later failure returns
// the items read so far together with an error of type partial. A fetch may
// itself return a capped error with its last items, e.g. for an API offset
// limit.
func (bc *BaseConnector) Paginate(ctx context.Context, table string, fetch FetchFunc) ([]Raw, error) {
	var out []Raw
	limits := bc.limits

	for page := 0; ; page++ {
		if page >= limits.MaxPages {
			return out, bc.Capped(table, len(out), "max_pages", limits.MaxPages)
		}

		if err := ctx.Err(); err != nil {
			return out, bc.pageError(table, page, len(out), errors.Wrap(err, errors.ErrorTypeTimeout, "context done"))
		}

		items, more, err := fetch(ctx, page)
		if errors.IsType(err, errors.ErrorTypeCapped) {
			return append(out, items...), err
		}
		if err != nil {
			return out, bc.pageError(table, page, len(out), err)
		}

		out = append(out, items...)
		more = more && len(items) > 0
		if len(out) > limits.MaxRecords || (len(out) == limits.MaxRecords && more) {
			return out[:limits.MaxRecords], bc.Capped(table, limits.MaxRecords, "max_records", limits.MaxRecords)
		}

		if !more {
			return out, nil
		}
	}
}

// Capped reports an extraction of table that stopped at limit after records
// rows although the source had more.
func (bc *BaseConnector) Capped(table string, records int, limit string, value int) error {
	bc.logger.Info("extraction cap reached",
		zap.String("table", table),
		zap.String("limit", limit),
		zap.Int("value", value),
		zap.Int("records", records))
	return errors.Newf(errors.ErrorTypeCapped, "%s cap of %d reached", limit, value).
		WithDetail("table", table).
		WithDetail("records", records)
}

// PageSize returns the configured page size clamped to max, the largest page
// the API accepts. An unset page size yields max.
func (bc *BaseConnector) PageSize(max int) int {
	n := bc.limits.PageSize
	if n <= 0 || n > max {
		return max
	}
	return n
}

func (bc *BaseConnector) pageError(table string, page, kept int, err error) error {
	if page == 0 || IsAuthFailure(err) {
		return err
	}
	bc.logger.Warn("page fetch failed, keeping partial results",
		zap.String("table", table),
		zap.Int("page", page),
		zap.Int("records", kept),
		zap.Error(err))
	return errors.Wrap(err, errors.ErrorTypePartial, "extraction stopped early").
		WithDetail("table", table).
		WithDetail("page", page).
		WithDetail("records", kept)
}

// Since returns the lower bound for an incremental extraction: the request
// watermark, or now minus the lookback window when none is set. It returns
// the zero time for full extractions.
func (bc *BaseConnector) Since(req core.ExtractRequest) time.Time {
	if !req.Incremental {
		return time.Time{}
	}
	if !req.Since.IsZero() {
		return req.Since.UTC()
	}
	return time.Now().UTC().Add(-bc.limits.Lookback)
}

// Records flattens raw items into records
func Records(items []Raw, opts FlattenOptions) []*core.Record {
	out := make([]*core.Record, 0, len(items))
	for _, it := range items {
		out = append(out, Flatten(it, opts))
	}
	return out
}

// Int reads an integer from a decoded JSON value
func Int(v interface{}) (int, bool) {
	switch n := v.(type) {
	case gojson.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

// Items converts a decoded JSON array of objects, skipping other elements
func Items(v interface{}) []Raw {
	raw, _ := v.([]interface{})
	out := make([]Raw, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}
