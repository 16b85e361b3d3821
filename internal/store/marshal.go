package store

import (
	"math"
	"strconv"
	"time"

	"github.com/roach88/reconcile/internal/gateway"
	"github.com/roach88/reconcile/internal/value"
)

// toSQL converts a value into a driver argument. Null becomes SQL NULL.
// Composite values are stored as their string form.
func toSQL(v value.Value) any {
	switch val := v.(type) {
	case nil, value.Null:
		return nil
	case value.Text:
		return string(val)
	case value.Int:
		return int64(val)
	case value.Decimal:
		return float64(val)
	case value.Bool:
		if val {
			return int64(1)
		}
		return int64(0)
	default:
		return v.String()
	}
}

// fromSQL converts a scanned column back into a value, shaped by the backend
// the column belongs to. An empty backend keeps the driver's type.
func fromSQL(raw any, backend gateway.Backend) value.Value {
	switch val := raw.(type) {
	case nil:
		return value.Null{}
	case int64:
		if backend == gateway.BackendDecimal {
			return value.Decimal(float64(val))
		}
		return value.Int(val)
	case float64:
		if backend == gateway.BackendInt && val == math.Trunc(val) {
			return value.Int(int64(val))
		}
		return value.Decimal(val)
	case bool:
		return value.Bool(val)
	case []byte:
		return textFromSQL(string(val), backend)
	case string:
		return textFromSQL(val, backend)
	case time.Time:
		return value.Text(val.UTC().Format(value.DateTimeLayout))
	default:
		return value.Null{}
	}
}

func textFromSQL(s string, backend gateway.Backend) value.Value {
	switch backend {
	case gateway.BackendInt:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return value.Int(i)
		}
	case gateway.BackendDecimal:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return value.Decimal(f)
		}
	}
	return value.Text(s)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
