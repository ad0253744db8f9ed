package traditional

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	mssql "github.com/denisenkom/go-mssqldb"

	"querybridge/internal/database/drivers"
	"querybridge/internal/model"
)

// SQLServerDriver implements drivers.Adapter for Microsoft SQL Server
type SQLServerDriver struct {
	*drivers.SQLBase
}

// NewSQLServerDriver builds a SQL Server adapter; no connection is made.
func NewSQLServerDriver(cfg *model.ConnectionConfig, creds drivers.Credentials, opts drivers.Options) (drivers.Adapter, error) {
	opts = opts.WithDefaults()
	dsn, err := BuildSQLServerDSN(cfg, creds, opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	base := drivers.NewSQLBase(model.DatabaseTypeSQLServer, "sqlserver", dsn, creds, opts)
	base.SetValueNormalizer(normalizeSQLServerValue)
	return &SQLServerDriver{SQLBase: base}, nil
}

// SQLServerInfo describes the SQL Server engine for the registry.
func SQLServerInfo() drivers.DriverInfo {
	return drivers.DriverInfo{
		Type:     model.DatabaseTypeSQLServer,
		Category: drivers.CategoryRelational,
		Capabilities: drivers.DriverCapabilities{
			SupportsSQL:             true,
			SupportsSchemaDiscovery: true,
		},
		DefaultPort: model.DefaultPort(model.DatabaseTypeSQLServer),
		New:         NewSQLServerDriver,
	}
}

// BuildSQLServerDSN returns a sqlserver:// URL. A connection URL is passed
// through after a scheme check.
func BuildSQLServerDSN(cfg *model.ConnectionConfig, creds drivers.Credentials, timeout time.Duration) (string, error) {
	if raw := strings.TrimSpace(creds.ConnectionURL); raw != "" {
		if err := validateSQLServerURL(raw); err != nil {
			return "", err
		}
		return withSQLServerTimeouts(raw, timeout)
	}

	u := &url.URL{
		Scheme: "sqlserver",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.PortOrDefault())),
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, creds.Password)
	}

	params := url.Values{}
	if cfg.Database != "" {
		params.Set("database", cfg.Database)
	}
	if cfg.SSL {
		params.Set("encrypt", "true")
	} else {
		params.Set("encrypt", "disable")
	}
	seconds := strconv.Itoa(timeoutSeconds(timeout))
	params.Set("connection timeout", seconds)
	params.Set("dial timeout", seconds)
	u.RawQuery = params.Encode()

	return u.String(), nil
}

// withSQLServerTimeouts adds connection and dial timeouts to a caller
// supplied URL or ADO string, keeping any the caller already set.
func withSQLServerTimeouts(raw string, timeout time.Duration) (string, error) {
	seconds := strconv.Itoa(timeoutSeconds(timeout))

	if !strings.Contains(raw, "://") {
		lower := strings.ToLower(raw)
		out := strings.TrimRight(raw, "; ")
		for _, key := range []string{"connection timeout", "dial timeout"} {
			if !strings.Contains(lower, key) {
				out += ";" + key + "=" + seconds
			}
		}
		return out, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid sqlserver connection URL")
	}
	params := u.Query()
	for _, key := range []string{"connection timeout", "dial timeout"} {
		if params.Get(key) == "" {
			params.Set(key, seconds)
		}
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

func validateSQLServerURL(raw string) error {
	// ADO-style "server=...;user id=..." strings are handed to the driver as-is.
	if !strings.Contains(raw, "://") {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid sqlserver connection URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "sqlserver" && scheme != "mssql" {
		return fmt.Errorf("invalid scheme in connection URL: %s, expected 'sqlserver'", scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host in connection URL")
	}
	return nil
}

func normalizeSQLServerValue(typeName string, v any) any {
	if typeName == "UNIQUEIDENTIFIER" {
		if b, ok := v.([]byte); ok && len(b) == 16 {
			var id mssql.UniqueIdentifier
			if err := id.Scan(b); err == nil {
				return id.String()
			}
		}
	}
	return drivers.NormalizeValue(typeName, v)
}
