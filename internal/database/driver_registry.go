package database

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"querybridge/internal/database/drivers"
	"querybridge/internal/database/drivers/nosql"
	"querybridge/internal/database/drivers/traditional"
	"querybridge/internal/model"
	"querybridge/internal/security"
	"querybridge/internal/utils"
)

// AdapterFactory builds an unconnected adapter for a connection config.
type AdapterFactory interface {
	CreateAdapter(cfg *model.ConnectionConfig) (drivers.Adapter, error)
}

var errNoResolver = errors.New("connection has encrypted secrets but no secret resolver is configured")

// DriverRegistry dispatches connection configs to engine constructors and
// resolves their secrets.
type DriverRegistry struct {
	drivers  map[model.DatabaseType]drivers.DriverInfo
	mutex    sync.RWMutex
	resolver security.SecretResolver
	opts     drivers.Options
}

// NewDriverRegistry creates a registry with every built-in engine registered.
func NewDriverRegistry(resolver security.SecretResolver, opts drivers.Options) *DriverRegistry {
	registry := &DriverRegistry{
		drivers:  make(map[model.DatabaseType]drivers.DriverInfo),
		resolver: resolver,
		opts:     opts.WithDefaults(),
	}

	registry.registerDrivers()

	return registry
}

func (dr *DriverRegistry) registerDrivers() {
	for _, info := range []drivers.DriverInfo{
		traditional.PostgreSQLInfo(),
		traditional.MySQLInfo(),
		traditional.SQLServerInfo(),
		traditional.SQLiteInfo(),
		nosql.MongoInfo(),
	} {
		dr.RegisterDriver(info)
	}
}

// RegisterDriver adds or replaces the constructor for info.Type.
func (dr *DriverRegistry) RegisterDriver(info drivers.DriverInfo) {
	dr.mutex.Lock()
	defer dr.mutex.Unlock()
	dr.drivers[info.Type] = info
}

// GetDriverInfo returns the registration for dbType
func (dr *DriverRegistry) GetDriverInfo(dbType model.DatabaseType) (drivers.DriverInfo, error) {
	dr.mutex.RLock()
	info, exists := dr.drivers[dbType]
	dr.mutex.RUnlock()

	if !exists {
		return drivers.DriverInfo{}, utils.NewUnsupportedEngineError(string(dbType), dr.supportedNames())
	}
	return info, nil
}

// CreateAdapter dispatches on cfg.Type, validates the config and decrypts its
// secrets. No network I/O happens here.
func (dr *DriverRegistry) CreateAdapter(cfg *model.ConnectionConfig) (drivers.Adapter, error) {
	if cfg == nil {
		return nil, utils.NewInvalidConfigError("", errors.New("connection config is nil"))
	}

	info, err := dr.GetDriverInfo(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, utils.NewInvalidConfigError(cfg.ID, err)
	}

	creds, err := dr.resolveCredentials(cfg)
	if err != nil {
		return nil, err
	}

	adapter, err := info.New(cfg, creds, dr.opts)
	if err != nil {
		return nil, utils.Redact(utils.NewInvalidConfigError(cfg.ID, err), creds.Secrets()...)
	}
	return adapter, nil
}

func (dr *DriverRegistry) resolveCredentials(cfg *model.ConnectionConfig) (drivers.Credentials, error) {
	var creds drivers.Credentials
	if cfg.PasswordEncrypted == "" && cfg.ConnectionURLEncrypted == "" {
		return creds, nil
	}
	if dr.resolver == nil {
		return creds, utils.NewDecryptionError(errNoResolver)
	}

	if cfg.ConnectionURLEncrypted != "" {
		url, err := dr.resolver.Decrypt(cfg.ConnectionURLEncrypted)
		if err != nil {
			return creds, asDecryptionError(err)
		}
		creds.ConnectionURL = url
	}
	if cfg.PasswordEncrypted != "" {
		password, err := dr.resolver.Decrypt(cfg.PasswordEncrypted)
		if err != nil {
			return creds, asDecryptionError(err)
		}
		creds.Password = password
	}
	return creds, nil
}

func asDecryptionError(err error) error {
	if utils.IsErrorType(err, utils.ErrCodeDecryptionFailed) {
		return err
	}
	return utils.NewDecryptionError(err)
}

// ListDrivers returns all registrations ordered by type
func (dr *DriverRegistry) ListDrivers() []drivers.DriverInfo {
	dr.mutex.RLock()
	defer dr.mutex.RUnlock()

	infos := make([]drivers.DriverInfo, 0, len(dr.drivers))
	for _, info := range dr.drivers {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Type < infos[j].Type })
	return infos
}

// IsSupported checks if a database type is supported
func (dr *DriverRegistry) IsSupported(dbType model.DatabaseType) bool {
	dr.mutex.RLock()
	_, exists := dr.drivers[dbType]
	dr.mutex.RUnlock()

	return exists
}

// GetDriverCategory returns the category for a database type
func (dr *DriverRegistry) GetDriverCategory(dbType model.DatabaseType) (drivers.DriverCategory, error) {
	info, err := dr.GetDriverInfo(dbType)
	if err != nil {
		return "", err
	}
	return info.Category, nil
}

// GetSupportedTypes returns all supported database types
func (dr *DriverRegistry) GetSupportedTypes() []model.DatabaseType {
	infos := dr.ListDrivers()
	types := make([]model.DatabaseType, len(infos))
	for i, info := range infos {
		types[i] = info.Type
	}
	return types
}

// Logger returns the logger handed to adapters
func (dr *DriverRegistry) Logger() *slog.Logger {
	return dr.opts.Logger
}

func (dr *DriverRegistry) supportedNames() []string {
	types := dr.GetSupportedTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}
