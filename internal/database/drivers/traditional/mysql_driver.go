package traditional

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"querybridge/internal/database/drivers"
	"querybridge/internal/model"
)

// MySQLDriver implements drivers.Adapter for MySQL and MariaDB
type MySQLDriver struct {
	*drivers.SQLBase
}

// NewMySQLDriver builds a MySQL adapter; no connection is made.
func NewMySQLDriver(cfg *model.ConnectionConfig, creds drivers.Credentials, opts drivers.Options) (drivers.Adapter, error) {
	opts = opts.WithDefaults()
	dsn, err := BuildMySQLDSN(cfg, creds, opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	base := drivers.NewSQLBase(model.DatabaseTypeMySQL, "mysql", dsn, creds, opts)
	base.SetValueNormalizer(normalizeMySQLValue)
	return &MySQLDriver{SQLBase: base}, nil
}

// MySQLInfo describes the MySQL engine for the registry.
func MySQLInfo() drivers.DriverInfo {
	return drivers.DriverInfo{
		Type:     model.DatabaseTypeMySQL,
		Category: drivers.CategoryRelational,
		Capabilities: drivers.DriverCapabilities{
			SupportsSQL:             true,
			SupportsSchemaDiscovery: true,
		},
		DefaultPort: model.DefaultPort(model.DatabaseTypeMySQL),
		New:         NewMySQLDriver,
	}
}

// BuildMySQLDSN returns a go-sql-driver DSN. A mysql:// URL or a native DSN
// is accepted as the connection URL.
func BuildMySQLDSN(cfg *model.ConnectionConfig, creds drivers.Credentials, timeout time.Duration) (string, error) {
	var mc *mysql.Config

	switch raw := strings.TrimSpace(creds.ConnectionURL); {
	case raw == "":
		mc = mysql.NewConfig()
		mc.User = cfg.Username
		mc.Passwd = creds.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.PortOrDefault()))
		mc.DBName = cfg.Database
		if cfg.SSL {
			mc.TLSConfig = "true"
		}
	case strings.HasPrefix(raw, "mysql://"):
		parsed, err := mysqlConfigFromURL(raw)
		if err != nil {
			return "", err
		}
		mc = parsed
	default:
		parsed, err := mysql.ParseDSN(raw)
		if err != nil {
			return "", fmt.Errorf("invalid mysql DSN: %w", err)
		}
		mc = parsed
	}

	if mc.Timeout == 0 {
		mc.Timeout = timeout
	}
	return mc.FormatDSN(), nil
}

func mysqlConfigFromURL(raw string) (*mysql.Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql connection URL")
	}

	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = u.Host
	if u.Port() == "" {
		mc.Addr = net.JoinHostPort(u.Hostname(), strconv.Itoa(model.DefaultPort(model.DatabaseTypeMySQL)))
	}
	if u.User != nil {
		mc.User = u.User.Username()
		mc.Passwd, _ = u.User.Password()
	}
	mc.DBName = strings.TrimPrefix(u.Path, "/")

	q := u.Query()
	if tls := q.Get("tls"); tls != "" {
		mc.TLSConfig = tls
	} else if q.Get("ssl") == "true" {
		mc.TLSConfig = "true"
	}
	return mc, nil
}

// The text protocol returns every non-NULL value as bytes; numeric columns
// are converted back to numbers here.
func normalizeMySQLValue(typeName string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}

	base := strings.TrimPrefix(typeName, "UNSIGNED ")
	unsigned := base != typeName

	switch base {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		if unsigned {
			if n, err := strconv.ParseUint(string(b), 10, 64); err == nil {
				return n
			}
		} else if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
	case "FLOAT", "DOUBLE":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	}
	return drivers.NormalizeValue(typeName, v)
}
