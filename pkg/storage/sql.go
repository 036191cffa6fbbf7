package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/levenlabs/go-lflag"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/smdmonitor/smdmonitor/pkg/log"
	"github.com/smdmonitor/smdmonitor/pkg/types"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite    = "sqlite"
	DriverMySQL     = "mysql"
	DriverSQLServer = "sqlserver"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLConfig holds the connection parameters for a relational store. It is
// built once at startup and handed to NewSQLProvider.
type SQLConfig struct {
	Driver   string
	Host     string
	Database string
	Username string
	Password string
	Table    string
	// Path is the database file when Driver is sqlite.
	Path string
	// InitSchema creates the table on Init when it doesn't exist.
	InitSchema bool
}

// Validate checks that the config can produce a connection and a safe query.
func (c SQLConfig) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("sqlite requires a path")
		}
	case DriverMySQL, DriverSQLServer:
		if c.Host == "" {
			return fmt.Errorf("%s requires a host", c.Driver)
		}
		if c.Database == "" {
			return fmt.Errorf("%s requires a database", c.Driver)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
	// the table name can't be bound so it must be a plain identifier
	if !tableNameRe.MatchString(c.Table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, c.Table)
	}
	return nil
}

// DSN returns the driver specific data source name.
func (c SQLConfig) DSN() string {
	switch c.Driver {
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = c.Username
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = c.Host
		mc.DBName = c.Database
		mc.ParseTime = true
		return mc.FormatDSN()
	case DriverSQLServer:
		u := &url.URL{
			Scheme:   "sqlserver",
			Host:     c.Host,
			RawQuery: url.Values{"database": {c.Database}}.Encode(),
		}
		if c.Username != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		}
		return u.String()
	default:
		return c.Path
	}
}

// SQLProvider reads grid updates from a relational table through
// database/sql.
type SQLProvider struct {
	cfg SQLConfig
	db  *sql.DB
}

func configuredSQL() *SQLProvider {
	driver := lflag.String("sql-driver", DriverSQLite, "SQL driver to use (available: sqlite, mysql, sqlserver)")
	host := lflag.String("sql-host", "", "SQL server host and optional port (e.g. 192.168.7.8:1433)")
	database := lflag.String("sql-database", "", "SQL database name")
	username := lflag.String("sql-username", "", "SQL username")
	password := lflag.String("sql-password", "", "SQL password")
	table := lflag.String("sql-table", "GridUpdate", "Table holding grid updates (e.g. dbo.GridUpdate)")
	path := lflag.String("sql-path", "smdmonitor.db", "Database file when using sqlite")
	initSchema := lflag.Bool("sql-init-schema", false, "Create the grid update table if it doesn't exist")

	p := &SQLProvider{}

	lflag.Do(func() {
		p.cfg = SQLConfig{
			Driver:     *driver,
			Host:       *host,
			Database:   *database,
			Username:   *username,
			Password:   *password,
			Table:      *table,
			Path:       *path,
			InitSchema: *initSchema,
		}
	})

	return p
}

// NewSQLProvider returns a provider for cfg. Init must be called before use.
func NewSQLProvider(cfg SQLConfig) *SQLProvider {
	return &SQLProvider{cfg: cfg}
}

// Validate checks if the provider is properly configured.
func (p *SQLProvider) Validate() error {
	return p.cfg.Validate()
}

// Init opens the database handle and verifies that it is reachable.
func (p *SQLProvider) Init(ctx context.Context) error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}
	db, err := sql.Open(p.cfg.Driver, p.cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open %s database: %w", p.cfg.Driver, err)
	}
	// every load opens its own connection and closes it when done
	db.SetMaxIdleConns(0)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to %s database: %w", p.cfg.Driver, err)
	}
	p.db = db
	if p.cfg.InitSchema {
		if err := p.CreateSchema(ctx); err != nil {
			db.Close()
			return err
		}
	}
	return nil
}

// Close closes the database handle.
func (p *SQLProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *SQLProvider) placeholder(n int) string {
	if p.cfg.Driver == DriverSQLServer {
		return "@p" + strconv.Itoa(n)
	}
	return "?"
}

func columnList() string {
	cols := make([]string, 0, len(types.Columns))
	for _, c := range types.Columns {
		cols = append(cols, string(c))
	}
	return strings.Join(cols, ", ")
}

// selectQuery builds the range query. Bounds are always bound parameters.
func (p *SQLProvider) selectQuery(r types.DateRange) (string, []any) {
	q := "SELECT DELIVERY_DATE, delivery_hour, " + columnList() + " FROM " + p.cfg.Table
	if !r.IsSet() {
		return q, nil
	}
	q += " WHERE DELIVERY_DATE BETWEEN " + p.placeholder(1) + " AND " + p.placeholder(2)
	return q, []any{r.Start.Format(types.DateLayout), r.End.Format(types.DateLayout)}
}

// GetGridUpdates runs the range query on a dedicated connection that is
// released when the call returns.
func (p *SQLProvider) GetGridUpdates(ctx context.Context, r types.DateRange) ([]types.RawRow, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to release connection", "error", err)
		}
	}()

	q, args := p.selectQuery(r)
	sqlRows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grid updates: %w", err)
	}
	defer sqlRows.Close()

	rows := []types.RawRow{}
	for sqlRows.Next() {
		var date, hour any
		values := make([]any, len(types.Columns))
		dest := make([]any, 0, len(values)+2)
		dest = append(dest, &date, &hour)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := sqlRows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan grid update: %w", err)
		}
		rows = append(rows, rawRow(date, hour, values))
	}
	if err := sqlRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grid updates: %w", err)
	}
	return rows, nil
}

// GetDateBounds returns the earliest and latest delivery dates.
func (p *SQLProvider) GetDateBounds(ctx context.Context) (types.DateRange, error) {
	var minDate, maxDate any
	q := "SELECT MIN(DELIVERY_DATE), MAX(DELIVERY_DATE) FROM " + p.cfg.Table
	if err := p.db.QueryRowContext(ctx, q).Scan(&minDate, &maxDate); err != nil {
		return types.DateRange{}, fmt.Errorf("failed to query date bounds: %w", err)
	}
	start, ok := stringValue(minDate)
	if !ok {
		return types.DateRange{}, nil
	}
	end, _ := stringValue(maxDate)

	var r types.DateRange
	var err error
	if r.Start, err = types.ParseDate(start); err != nil {
		return types.DateRange{}, err
	}
	if r.End, err = types.ParseDate(end); err != nil {
		return types.DateRange{}, err
	}
	return r, nil
}

// InsertGridUpdates writes rows in a single transaction. Values are passed
// to the driver untouched so the table may hold whatever the source wrote.
func (p *SQLProvider) InsertGridUpdates(ctx context.Context, rows []types.RawRow) error {
	placeholders := make([]string, 0, len(types.Columns)+2)
	for i := 1; i <= len(types.Columns)+2; i++ {
		placeholders = append(placeholders, p.placeholder(i))
	}
	q := "INSERT INTO " + p.cfg.Table + " (DELIVERY_DATE, delivery_hour, " + columnList() + ") VALUES (" + strings.Join(placeholders, ", ") + ")"

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		hour, err := strconv.Atoi(strings.TrimSpace(row.DeliveryHour))
		if err != nil {
			return fmt.Errorf("invalid delivery hour %q: %w", row.DeliveryHour, err)
		}
		args := make([]any, 0, len(types.Columns)+2)
		args = append(args, row.DeliveryDate, hour)
		for _, c := range types.Columns {
			if v, ok := row.Values[c]; ok {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert grid update (%s %s): %w", row.DeliveryDate, row.DeliveryHour, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit grid updates: %w", err)
	}
	return nil
}

// CreateSchema creates the grid update table if it doesn't exist.
func (p *SQLProvider) CreateSchema(ctx context.Context) error {
	numType := "DOUBLE"
	if p.cfg.Driver == DriverSQLServer {
		numType = "FLOAT NULL"
	}
	cols := make([]string, 0, len(types.Columns)+2)
	cols = append(cols, "DELIVERY_DATE DATE NOT NULL", "delivery_hour INT NOT NULL")
	for _, c := range types.Columns {
		cols = append(cols, string(c)+" "+numType)
	}
	body := "(" + strings.Join(cols, ", ") + ")"

	var q string
	if p.cfg.Driver == DriverSQLServer {
		q = "IF OBJECT_ID(N'" + p.cfg.Table + "', N'U') IS NULL CREATE TABLE " + p.cfg.Table + " " + body
	} else {
		q = "CREATE TABLE IF NOT EXISTS " + p.cfg.Table + " " + body
	}
	if _, err := p.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("failed to create table %s: %w", p.cfg.Table, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "ensured grid update table", "table", p.cfg.Table)
	return nil
}
