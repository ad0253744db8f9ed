package traditional

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"querybridge/internal/database/drivers"
	"querybridge/internal/model"
)

// PostgreSQLDriver implements drivers.Adapter for PostgreSQL
type PostgreSQLDriver struct {
	*drivers.SQLBase
}

// NewPostgreSQLDriver builds a PostgreSQL adapter; no connection is made.
func NewPostgreSQLDriver(cfg *model.ConnectionConfig, creds drivers.Credentials, opts drivers.Options) (drivers.Adapter, error) {
	opts = opts.WithDefaults()
	dsn, err := BuildPostgreSQLDSN(cfg, creds, opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	return &PostgreSQLDriver{
		SQLBase: drivers.NewSQLBase(model.DatabaseTypePostgreSQL, "postgres", dsn, creds, opts),
	}, nil
}

// PostgreSQLInfo describes the PostgreSQL engine for the registry.
func PostgreSQLInfo() drivers.DriverInfo {
	return drivers.DriverInfo{
		Type:     model.DatabaseTypePostgreSQL,
		Category: drivers.CategoryRelational,
		Capabilities: drivers.DriverCapabilities{
			SupportsSQL:             true,
			SupportsSchemaDiscovery: true,
		},
		DefaultPort: model.DefaultPort(model.DatabaseTypePostgreSQL),
		New:         NewPostgreSQLDriver,
	}
}

// BuildPostgreSQLDSN returns a lib/pq connection string. A connection URL is
// converted to key/value form; otherwise one is built from the discrete fields.
func BuildPostgreSQLDSN(cfg *model.ConnectionConfig, creds drivers.Credentials, timeout time.Duration) (string, error) {
	if creds.ConnectionURL != "" {
		raw := strings.TrimSpace(creds.ConnectionURL)
		if strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://") {
			dsn, err := pq.ParseURL(raw)
			if err != nil {
				return "", fmt.Errorf("invalid postgres connection URL: %w", err)
			}
			return withConnectTimeout(dsn, timeout), nil
		}
		return withConnectTimeout(raw, timeout), nil
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.PortOrDefault())),
		Path:   "/" + cfg.Database,
	}
	if cfg.Username != "" {
		if creds.Password != "" {
			u.User = url.UserPassword(cfg.Username, creds.Password)
		} else {
			u.User = url.User(cfg.Username)
		}
	}

	params := url.Values{}
	if cfg.SSL {
		params.Set("sslmode", "require")
	} else {
		params.Set("sslmode", "disable")
	}
	params.Set("connect_timeout", strconv.Itoa(timeoutSeconds(timeout)))
	u.RawQuery = params.Encode()

	return u.String(), nil
}

// withConnectTimeout adds connect_timeout to a key/value DSN unless the
// caller already set one.
func withConnectTimeout(dsn string, timeout time.Duration) string {
	if strings.Contains(dsn, "connect_timeout=") {
		return dsn
	}
	return dsn + " connect_timeout=" + strconv.Itoa(timeoutSeconds(timeout))
}

func timeoutSeconds(d time.Duration) int {
	s := int(d / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
