// Package database - Handles all interaction with ArangoDB
package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
	"github.com/cenkalti/backoff"
	"github.com/ortelius/pdvd-rollup/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger = InitLogger() // setup the logger

// DBConnection is the structure that defined the database engine and collections
type DBConnection struct {
	Collections map[string]arangodb.Collection
	Database    arangodb.Database
}

// Define a struct to hold the index definition
type indexConfig struct {
	Collection string
	IdxName    string
	Fields     []string
	Unique     bool
	Sparse     bool
}

// collectionNames are the document collections the rollup reads and writes.
var collectionNames = []string{
	"org", "component", "branch", "release", "variant", "deliverable",
	"source_code_entry", "artifact", "bom", "vuln_analysis", "cve", "job_lock", "metadata",
}

var indexList = []indexConfig{
	// Release lookups by org, artifact membership and parent links
	{Collection: "release", IdxName: "release_org", Fields: []string{"org"}},
	{Collection: "release", IdxName: "release_artifacts", Fields: []string{"artifacts[*]"}},
	{Collection: "release", IdxName: "release_parents", Fields: []string{"parent_releases[*].release"}},
	{Collection: "release", IdxName: "release_sce", Fields: []string{"source_code_entry"}, Sparse: true},
	{Collection: "release", IdxName: "release_org_last_scanned", Fields: []string{"org", "metrics.last_scanned"}, Sparse: true},
	{Collection: "release", IdxName: "release_version_sort", Fields: []string{"component", "version_major", "version_minor", "version_patch"}, Sparse: true},

	{Collection: "variant", IdxName: "variant_release", Fields: []string{"release"}},
	{Collection: "deliverable", IdxName: "deliverable_artifacts", Fields: []string{"artifacts[*]"}},
	{Collection: "source_code_entry", IdxName: "sce_artifacts", Fields: []string{"artifacts[*].artifact"}},

	// Artifact dedup by stored BOM digest
	{Collection: "artifact", IdxName: "artifact_org_digests", Fields: []string{"org", "digests[*]"}},
	{Collection: "bom", IdxName: "bom_org_digest", Fields: []string{"org", "digest"}, Unique: true},

	{Collection: "component", IdxName: "component_org_type", Fields: []string{"org", "type"}},
	{Collection: "branch", IdxName: "branch_component_name", Fields: []string{"component", "name"}},
	{Collection: "branch", IdxName: "branch_component_type", Fields: []string{"component", "type"}},

	// Analysis lookup is always by the full tuple
	{Collection: "vuln_analysis", IdxName: "analysis_lookup", Fields: []string{"org", "location", "finding_id", "finding_type", "scope", "scope_key"}},

	{Collection: "cve", IdxName: "cve_id", Fields: []string{"id"}},
	{Collection: "cve", IdxName: "cve_aliases", Fields: []string{"aliases[*]"}},

	{Collection: "job_lock", IdxName: "job_lock_expires", Fields: []string{"expires_at"}},
}

// InitLogger sets up the Zap Logger to log to the console in a human readable format
func InitLogger() *zap.Logger {
	prodConfig := zap.NewProductionConfig()
	prodConfig.Encoding = "console"
	prodConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	prodConfig.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	logger, _ := prodConfig.Build()
	return logger
}

func dbConnectionConfig(endpoint connection.Endpoint, dbuser string, dbpass string) connection.HttpConfiguration {
	return connection.HttpConfiguration{
		Authentication: connection.NewBasicAuth(dbuser, dbpass),
		Endpoint:       endpoint,
		ContentType:    connection.ApplicationJSON,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 90 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// InitializeDatabase connects to the db engine with backoff, then creates the
// database, collections and indexes the rollup needs.
func InitializeDatabase(ctx context.Context, cfg config.ArangoConfig) (DBConnection, error) {
	const initialInterval = 10 * time.Second
	const maxInterval = 2 * time.Minute

	var client arangodb.Client

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = 0 // Set to 0 for indefinite retries

	err := backoff.RetryNotify(func() error {
		endpoint := connection.NewRoundRobinEndpoints([]string{cfg.Endpoint()})
		conn := connection.NewHttpConnection(dbConnectionConfig(endpoint, cfg.User, cfg.Pass))

		client = arangodb.NewClient(conn)

		versionInfo, err := client.Version(ctx)
		if err != nil {
			return err
		}

		logger.Sugar().Infof("Database has version '%s' and license '%s'", versionInfo.Version, versionInfo.License)
		return nil
	}, bo, func(err error, next time.Duration) {
		logger.Sugar().Warnf("Retrying connection to ArangoDB in %s: %v", next, err)
	})
	if err != nil {
		return DBConnection{}, fmt.Errorf("failed to connect to ArangoDB: %w", err)
	}

	db, err := openDatabase(ctx, client, cfg.Database)
	if err != nil {
		return DBConnection{}, err
	}

	collections := make(map[string]arangodb.Collection, len(collectionNames))
	for _, name := range collectionNames {
		col, err := openCollection(ctx, db, name)
		if err != nil {
			return DBConnection{}, err
		}
		collections[name] = col
	}

	for _, idx := range indexList {
		if err := ensureIndex(ctx, collections[idx.Collection], idx); err != nil {
			return DBConnection{}, err
		}
	}

	logger.Sugar().Infof("Database initialization complete: %d collections, %d indexes", len(collections), len(indexList))

	return DBConnection{Database: db, Collections: collections}, nil
}

func openDatabase(ctx context.Context, client arangodb.Client, name string) (arangodb.Database, error) {
	dblist, err := client.Databases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}

	exists := false
	for _, dbinfo := range dblist {
		if dbinfo.Name() == name {
			exists = true
			break
		}
	}

	if exists {
		var options arangodb.GetDatabaseOptions
		db, err := client.GetDatabase(ctx, name, &options)
		if err != nil {
			return nil, fmt.Errorf("failed to get database %s: %w", name, err)
		}
		return db, nil
	}
	db, err := client.CreateDatabase(ctx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create database %s: %w", name, err)
	}
	return db, nil
}

func openCollection(ctx context.Context, db arangodb.Database, name string) (arangodb.Collection, error) {
	exists, _ := db.CollectionExists(ctx, name)
	if exists {
		var options arangodb.GetCollectionOptions
		col, err := db.GetCollection(ctx, name, &options)
		if err != nil {
			return nil, fmt.Errorf("failed to use collection %s: %w", name, err)
		}
		return col, nil
	}
	col, err := db.CreateCollectionV2(ctx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return col, nil
}

func ensureIndex(ctx context.Context, col arangodb.Collection, idx indexConfig) error {
	if indexes, err := col.Indexes(ctx); err == nil {
		for _, index := range indexes {
			if index.Name == idx.IdxName {
				return nil
			}
		}
	}

	unique, sparse := idx.Unique, idx.Sparse
	indexOptions := arangodb.CreatePersistentIndexOptions{
		Unique: &unique,
		Sparse: &sparse,
		Name:   idx.IdxName,
	}
	if _, _, err := col.EnsurePersistentIndex(ctx, idx.Fields, &indexOptions); err != nil {
		return fmt.Errorf("error creating index %s on %s: %w", idx.IdxName, idx.Collection, err)
	}
	logger.Sugar().Infof("Created index: %s on %s%v", idx.IdxName, idx.Collection, idx.Fields)
	return nil
}
