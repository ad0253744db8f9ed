package model

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type DatabaseType string

const (
	// Relational engines
	DatabaseTypePostgreSQL DatabaseType = "postgres"
	DatabaseTypeMySQL      DatabaseType = "mysql"
	DatabaseTypeSQLServer  DatabaseType = "mssql"
	DatabaseTypeSQLite     DatabaseType = "sqlite"

	// Document store
	DatabaseTypeMongoDB DatabaseType = "mongodb"
)

// ConnectionConfig holds the connection configuration for a data source.
// Secrets are stored encrypted and resolved once per adapter construction.
type ConnectionConfig struct {
	ID                     string       `json:"id" mapstructure:"id" validate:"required"`
	Type                   DatabaseType `json:"type" mapstructure:"type" validate:"required"`
	Host                   string       `json:"host,omitempty" mapstructure:"host" validate:"omitempty,max=255"`
	Port                   int          `json:"port,omitempty" mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Database               string       `json:"database,omitempty" mapstructure:"database"`
	Username               string       `json:"username,omitempty" mapstructure:"username"`
	PasswordEncrypted      string       `json:"passwordEncrypted,omitempty" mapstructure:"password_encrypted"`
	ConnectionURLEncrypted string       `json:"connectionUrlEncrypted,omitempty" mapstructure:"connection_url_encrypted"`
	SSL                    bool         `json:"ssl,omitempty" mapstructure:"ssl"`
}

var configValidator = validator.New()

// Validate checks struct tags and the per-engine addressing rule: SQLite
// needs a database path or URL, every other engine needs a host or URL.
func (c *ConnectionConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if c.HasConnectionURL() {
		return nil
	}

	switch c.Type {
	case DatabaseTypeSQLite:
		if strings.TrimSpace(c.Database) == "" {
			return fmt.Errorf("sqlite connection %q requires a database path or connection URL", c.ID)
		}
	default:
		if strings.TrimSpace(c.Host) == "" {
			return fmt.Errorf("%s connection %q requires a host or connection URL", c.Type, c.ID)
		}
	}
	return nil
}

// HasConnectionURL reports whether the encrypted connection URL is set; when
// it is, it takes precedence over the discrete host fields.
func (c *ConnectionConfig) HasConnectionURL() bool {
	return c.ConnectionURLEncrypted != ""
}

// PortOrDefault returns the configured port, falling back to the engine default.
func (c *ConnectionConfig) PortOrDefault() int {
	if c.Port > 0 {
		return c.Port
	}
	return DefaultPort(c.Type)
}

// DefaultPort returns the engine's well-known port, or 0 for file-backed engines.
func DefaultPort(dbType DatabaseType) int {
	switch dbType {
	case DatabaseTypePostgreSQL:
		return 5432
	case DatabaseTypeMySQL:
		return 3306
	case DatabaseTypeSQLServer:
		return 1433
	case DatabaseTypeMongoDB:
		return 27017
	default:
		return 0
	}
}

// IsValidDatabaseType checks if a database type is valid
func IsValidDatabaseType(dbType string) bool {
	switch DatabaseType(dbType) {
	case DatabaseTypePostgreSQL, DatabaseTypeMySQL, DatabaseTypeSQLServer,
		DatabaseTypeSQLite, DatabaseTypeMongoDB:
		return true
	default:
		return false
	}
}

// IsRelational reports whether the engine speaks SQL.
func IsRelational(dbType DatabaseType) bool {
	switch dbType {
	case DatabaseTypePostgreSQL, DatabaseTypeMySQL, DatabaseTypeSQLServer, DatabaseTypeSQLite:
		return true
	default:
		return false
	}
}

// GetDatabaseCategory returns the category of a database type
func GetDatabaseCategory(dbType DatabaseType) string {
	if dbType == DatabaseTypeMongoDB {
		return "nosql"
	}
	return "traditional"
}
