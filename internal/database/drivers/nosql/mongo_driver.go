package nosql

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"querybridge/internal/database/drivers"
	"querybridge/internal/model"
	"querybridge/internal/utils"
)

// MongoDriver implements drivers.Adapter for MongoDB. It runs
// DocumentOperation requests only.
type MongoDriver struct {
	*drivers.DriverBase

	uri     string
	dbName  string
	secrets []string
	opts    drivers.Options

	mu     sync.Mutex
	client *mongo.Client
}

// NewMongoDriver builds a MongoDB adapter; no connection is made.
func NewMongoDriver(cfg *model.ConnectionConfig, creds drivers.Credentials, opts drivers.Options) (drivers.Adapter, error) {
	opts = opts.WithDefaults()

	uri, dbName, err := BuildMongoURI(cfg, creds)
	if err != nil {
		return nil, err
	}

	return &MongoDriver{
		DriverBase: drivers.NewDriverBase(model.DatabaseTypeMongoDB, drivers.CategoryDocument, opts.Logger),
		uri:        uri,
		dbName:     dbName,
		secrets:    creds.Secrets(),
		opts:       opts,
	}, nil
}

// MongoInfo describes the MongoDB engine for the registry.
func MongoInfo() drivers.DriverInfo {
	return drivers.DriverInfo{
		Type:     model.DatabaseTypeMongoDB,
		Category: drivers.CategoryDocument,
		Capabilities: drivers.DriverCapabilities{
			SupportsDocumentQueries: true,
		},
		DefaultPort: model.DefaultPort(model.DatabaseTypeMongoDB),
		New:         NewMongoDriver,
	}
}

// BuildMongoURI returns the connection URI and the database to query. The
// database comes from the config, falling back to the URI path.
func BuildMongoURI(cfg *model.ConnectionConfig, creds drivers.Credentials) (string, string, error) {
	uri := strings.TrimSpace(creds.ConnectionURL)
	if uri == "" {
		u := &url.URL{
			Scheme: "mongodb",
			Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.PortOrDefault())),
			Path:   "/",
		}
		if cfg.Username != "" {
			u.User = url.UserPassword(cfg.Username, creds.Password)
		}
		if cfg.SSL {
			u.RawQuery = url.Values{"tls": []string{"true"}}.Encode()
		}
		uri = u.String()
	}

	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return "", "", utils.Redact(fmt.Errorf("invalid mongodb connection string: %w", err), creds.Secrets()...)
	}

	dbName := cfg.Database
	if dbName == "" {
		dbName = cs.Database
	}
	if dbName == "" {
		return "", "", fmt.Errorf("mongodb connection %q requires a database name", cfg.ID)
	}
	return uri, dbName, nil
}

func (md *MongoDriver) Connect(ctx context.Context) error {
	md.mu.Lock()
	defer md.mu.Unlock()

	if md.client != nil {
		return nil
	}

	clientOpts := options.Client().
		ApplyURI(md.uri).
		SetConnectTimeout(md.opts.ConnectTimeout).
		SetServerSelectionTimeout(md.opts.ConnectTimeout)

	cctx, cancel := context.WithTimeout(ctx, md.opts.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(cctx, clientOpts)
	if err != nil {
		return md.connectionError(err)
	}

	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		if derr := client.Disconnect(context.Background()); derr != nil {
			md.Logger().Warn("failed to close client after ping failure", "error", utils.Redact(derr, md.secrets...))
		}
		return md.connectionError(err)
	}

	md.client = client
	md.Logger().Debug("connected", "database", md.dbName)
	return nil
}

func (md *MongoDriver) Query(ctx context.Context, req model.Request) (*model.QueryResult, error) {
	op, ok := req.(model.DocumentOperation)
	if !ok {
		return nil, utils.NewRequestMismatchError(string(md.DatabaseType()), "SQL")
	}
	if err := op.Validate(); err != nil {
		return nil, utils.NewInvalidDocumentOpError(err)
	}

	md.mu.Lock()
	defer md.mu.Unlock()

	if md.client == nil {
		return nil, utils.NewNotConnectedError(string(md.DatabaseType()))
	}

	coll := md.client.Database(md.dbName).Collection(op.Collection)

	var (
		docs []bson.D
		err  error
	)
	switch op.Operation {
	case model.DocumentFind:
		docs, err = runFind(ctx, coll, op)
	case model.DocumentAggregate:
		docs, err = runAggregate(ctx, coll, op)
	case model.DocumentCount:
		docs, err = runCount(ctx, coll, op)
	}
	if err != nil {
		if utils.IsErrorType(err, utils.ErrCodeInvalidDocumentOp) {
			return nil, err
		}
		return nil, utils.Redact(utils.NewQueryError(string(md.DatabaseType()), op.Describe(), err), md.secrets...)
	}

	return documentsToResult(docs), nil
}

func (md *MongoDriver) Disconnect(ctx context.Context) {
	md.mu.Lock()
	defer md.mu.Unlock()

	if md.client == nil {
		return
	}
	if err := md.client.Disconnect(ctx); err != nil {
		md.Logger().Warn("failed to disconnect", "error", utils.Redact(err, md.secrets...))
	}
	md.client = nil
}

func (md *MongoDriver) TestConnection(ctx context.Context) bool {
	if err := md.Connect(ctx); err != nil {
		md.Logger().Debug("connection test failed", "error", err)
		return false
	}
	defer md.Disconnect(ctx)

	md.mu.Lock()
	defer md.mu.Unlock()
	if md.client == nil {
		return false
	}
	if err := md.client.Database(md.dbName).RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		md.Logger().Debug("connection test command failed", "error", err)
		return false
	}
	return true
}

func (md *MongoDriver) connectionError(err error) error {
	return utils.Redact(utils.NewConnectionError(string(md.DatabaseType()), err), md.secrets...)
}
