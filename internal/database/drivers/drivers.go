package drivers

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"querybridge/internal/model"
)

// DefaultConnectTimeout bounds connection establishment for every engine.
const DefaultConnectTimeout = 10 * time.Second

// DriverCategory categorizes drivers by their type
type DriverCategory string

const (
	CategoryRelational DriverCategory = "relational"
	CategoryDocument   DriverCategory = "document"
)

// DriverCapabilities defines what operations a driver supports
type DriverCapabilities struct {
	SupportsSQL             bool
	SupportsDocumentQueries bool
	SupportsSchemaDiscovery bool
}

// Adapter is the uniform handle over one engine connection. A handle moves
// Disconnected -> Connected -> Disconnected; Query is only valid while
// Connected.
type Adapter interface {
	// Connect opens the native connection and verifies it with a ping.
	Connect(ctx context.Context) error

	// Query runs one request on the open connection.
	Query(ctx context.Context, req model.Request) (*model.QueryResult, error)

	// Disconnect releases the native connection. Failures are logged, never returned.
	Disconnect(ctx context.Context)

	// TestConnection connects, runs a trivial query and disconnects.
	TestConnection(ctx context.Context) bool

	// DatabaseType returns the engine tag
	DatabaseType() model.DatabaseType
}

// Credentials are the plaintext secrets resolved for a single adapter.
type Credentials struct {
	Password      string
	ConnectionURL string
}

// Secrets lists the non-empty values that must never surface in messages.
func (c Credentials) Secrets() []string {
	var out []string
	for _, s := range []string{c.Password, c.ConnectionURL} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// OpenFunc opens a database/sql handle. It defaults to sql.Open.
type OpenFunc func(driverName, dsn string) (*sql.DB, error)

// Options carry construction-time settings shared by every engine.
type Options struct {
	ConnectTimeout time.Duration
	Logger         *slog.Logger
	OpenDB         OpenFunc
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.OpenDB == nil {
		o.OpenDB = sql.Open
	}
	return o
}

// Constructor builds an adapter from a validated config and resolved secrets.
type Constructor func(cfg *model.ConnectionConfig, creds Credentials, opts Options) (Adapter, error)

// DriverInfo describes a registered engine.
type DriverInfo struct {
	Type         model.DatabaseType
	Category     DriverCategory
	Capabilities DriverCapabilities
	DefaultPort  int
	New          Constructor
}

// DriverBase provides common functionality for all drivers
type DriverBase struct {
	dbType   model.DatabaseType
	category DriverCategory
	logger   *slog.Logger
}

func NewDriverBase(dbType model.DatabaseType, category DriverCategory, logger *slog.Logger) *DriverBase {
	return &DriverBase{
		dbType:   dbType,
		category: category,
		logger:   logger.With("database_type", string(dbType)),
	}
}

func (db *DriverBase) DatabaseType() model.DatabaseType {
	return db.dbType
}

func (db *DriverBase) GetCategory() DriverCategory {
	return db.category
}

func (db *DriverBase) Logger() *slog.Logger {
	return db.logger
}

// QuoteIdentifier quotes name in the engine's identifier dialect.
func QuoteIdentifier(dbType model.DatabaseType, name string) string {
	switch dbType {
	case model.DatabaseTypeMySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case model.DatabaseTypeSQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// PreviewSQL returns a read-only statement selecting the first limit rows of table.
func PreviewSQL(dbType model.DatabaseType, table string, limit int) (string, error) {
	if !model.IsRelational(dbType) {
		return "", fmt.Errorf("preview is not supported for %s", dbType)
	}
	if limit <= 0 {
		limit = 10
	}
	quoted := QuoteIdentifier(dbType, table)
	if dbType == model.DatabaseTypeSQLServer {
		return fmt.Sprintf("SELECT TOP %d * FROM %s", limit, quoted), nil
	}
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoted, limit), nil
}
