package traditional

import (
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"querybridge/internal/database/drivers"
	"querybridge/internal/model"
)

// SQLiteDriver implements drivers.Adapter for SQLite database files
type SQLiteDriver struct {
	*drivers.SQLBase
}

// NewSQLiteDriver builds a SQLite adapter; the file is opened read-only on Connect.
func NewSQLiteDriver(cfg *model.ConnectionConfig, creds drivers.Credentials, opts drivers.Options) (drivers.Adapter, error) {
	opts = opts.WithDefaults()
	dsn, err := BuildSQLiteDSN(cfg, creds, opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	return &SQLiteDriver{
		SQLBase: drivers.NewSQLBase(model.DatabaseTypeSQLite, "sqlite", dsn, creds, opts),
	}, nil
}

// SQLiteInfo describes the SQLite engine for the registry.
func SQLiteInfo() drivers.DriverInfo {
	return drivers.DriverInfo{
		Type:     model.DatabaseTypeSQLite,
		Category: drivers.CategoryRelational,
		Capabilities: drivers.DriverCapabilities{
			SupportsSQL:             true,
			SupportsSchemaDiscovery: true,
		},
		New: NewSQLiteDriver,
	}
}

var sqlitePathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// BuildSQLiteDSN returns a read-only file: URI for the database path. The
// connection URL, when set, may be a path, a file: URI or a sqlite:// URL.
func BuildSQLiteDSN(cfg *model.ConnectionConfig, creds drivers.Credentials, timeout time.Duration) (string, error) {
	path := strings.TrimSpace(cfg.Database)
	if raw := strings.TrimSpace(creds.ConnectionURL); raw != "" {
		switch {
		case strings.HasPrefix(raw, "file:"):
			return raw, nil
		case strings.HasPrefix(raw, "sqlite://"):
			path = strings.TrimPrefix(raw, "sqlite://")
		default:
			path = raw
		}
	}
	if path == "" {
		return "", fmt.Errorf("sqlite requires a database path")
	}

	busy := fmt.Sprintf("_pragma=busy_timeout(%d)", timeout.Milliseconds())
	if path == ":memory:" {
		return "file::memory:?" + busy, nil
	}
	return "file:" + sqlitePathEscaper.Replace(path) + "?mode=ro&" + busy, nil
}
