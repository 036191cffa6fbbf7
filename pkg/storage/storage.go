package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/smdmonitor/smdmonitor/pkg/types"
)

var (
	ErrUnknownDriver = errors.New("unknown sql driver")
	ErrInvalidTable  = errors.New("invalid table name")
)

// Database loads grid updates from a store.
type Database interface {
	// GetGridUpdates returns every row whose delivery date falls within the
	// inclusive range, or every row when the range is not set. An empty
	// result is not an error.
	GetGridUpdates(ctx context.Context, r types.DateRange) ([]types.RawRow, error)
	// GetDateBounds returns the earliest and latest delivery dates. The zero
	// range is returned when the store is empty.
	GetDateBounds(ctx context.Context) (types.DateRange, error)
	// InsertGridUpdates writes rows as-is.
	InsertGridUpdates(ctx context.Context, rows []types.RawRow) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sql", "Storage provider to use (available: sql, firestore)")

	var p struct{ Database }

	sp := configuredSQL()
	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "sql":
			if err := sp.Validate(); err != nil {
				panic(fmt.Sprintf("sql validation failed: %v", err))
			}
			p.Database = sp
			if err := sp.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sql init failed: %v", err))
			}
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

// stringValue renders a driver value the way RawRow expects it. nil means
// the value was NULL.
func stringValue(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int:
		return strconv.Itoa(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case bool:
		return strconv.FormatBool(v), true
	case time.Time:
		return v.Format("2006-01-02 15:04:05"), true
	default:
		return fmt.Sprint(v), true
	}
}

func rawRow(date, hour any, values []any) types.RawRow {
	row := types.RawRow{
		Values: make(map[types.Column]string, len(types.Columns)),
	}
	row.DeliveryDate, _ = stringValue(date)
	row.DeliveryHour, _ = stringValue(hour)
	for i, c := range types.Columns {
		if s, ok := stringValue(values[i]); ok {
			row.Values[c] = s
		}
	}
	return row
}
