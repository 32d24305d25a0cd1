// Package database - Handles all interaction with ArangoDB
package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
	"github.com/cenkalti/backoff"
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
	IdxField   string
}

var initDone = false          // has the data been initialized
var dbConnection DBConnection // database connection definition

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
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

// InitializeDatabase is the function for connecting to the db engine, creating the database and collections
func InitializeDatabase() DBConnection {
	const initialInterval = 10 * time.Second
	const maxInterval = 2 * time.Minute

	var db arangodb.Database
	var collections map[string]arangodb.Collection
	const databaseName = "remediation"

	ctx := context.Background()

	if initDone {
		return dbConnection
	}

	False := false
	True := true
	dbhost := GetEnvDefault("ARANGO_HOST", "localhost")
	dbport := GetEnvDefault("ARANGO_PORT", "8529")
	dbuser := GetEnvDefault("ARANGO_USER", "root")
	dbpass := GetEnvDefault("ARANGO_PASS", "mypassword")
	dburl := GetEnvDefault("ARANGO_URL", "http://"+dbhost+":"+dbport)

	var client arangodb.Client

	//
	// Database connection with backoff retry
	//

	// Configure exponential backoff
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = 0 // Set to 0 for indefinite retries

	// Retry logic
	err := backoff.RetryNotify(func() error {
		fmt.Println("Attempting to connect to ArangoDB")
		endpoint := connection.NewRoundRobinEndpoints([]string{dburl})
		conn := connection.NewHttpConnection(dbConnectionConfig(endpoint, dbuser, dbpass))

		client = arangodb.NewClient(conn)

		// Ask the version of the server
		versionInfo, err := client.Version(context.Background())
		if err != nil {
			return err
		}

		logger.Sugar().Infof("Database has version '%s' and license '%s'\n", versionInfo.Version, versionInfo.License)
		return nil

	}, bo, func(err error, _ time.Duration) {
		// Optionally, you can add a message here to be printed after each retry
		fmt.Printf("Retrying connection to ArangoDB: %v\n", err)
	})

	if err != nil {
		logger.Sugar().Fatalf("Backoff Error %v\n", err)
	}

	//
	// Database creation
	//

	exists := false
	dblist, _ := client.Databases(ctx)

	for _, dbinfo := range dblist {
		if dbinfo.Name() == databaseName {
			exists = true
			break
		}
	}

	if exists {
		var options arangodb.GetDatabaseOptions
		if db, err = client.GetDatabase(ctx, databaseName, &options); err != nil {
			logger.Sugar().Fatalf("Failed to get Database: %v", err)
		}
	} else {
		if db, err = client.CreateDatabase(ctx, databaseName, nil); err != nil {
			logger.Sugar().Fatalf("Failed to create Database: %v", err)
		}
	}

	//
	// Collection creation for document storage
	//

	collections = make(map[string]arangodb.Collection)
	collectionNames := []string{
		"issue", "scan", "repoconfig", "objective", "session", "cycle",
		"orchestrator_state", "cycle_lock", "dispatch_audit", "metadata",
	}

	for _, collectionName := range collectionNames {
		var col arangodb.Collection

		exists, _ = db.CollectionExists(ctx, collectionName)
		if exists {
			var options arangodb.GetCollectionOptions
			if col, err = db.GetCollection(ctx, collectionName, &options); err != nil {
				logger.Sugar().Fatalf("Failed to use collection: %v", err)
			}
		} else {
			if col, err = db.CreateCollectionV2(ctx, collectionName, nil); err != nil {
				logger.Sugar().Fatalf("Failed to create collection: %v", err)
			}
		}

		collections[collectionName] = col
	}

	//
	// Index creation for document collections
	//

	idxList := []indexConfig{
		// Issue collection indexes - fingerprint lookup is the hot path
		{Collection: "issue", IdxName: "issue_fingerprint", IdxField: "fingerprint"},
		{Collection: "issue", IdxName: "issue_repo_url", IdxField: "repo_url"},
		{Collection: "issue", IdxName: "issue_severity", IdxField: "severity_tier"},
		{Collection: "issue", IdxName: "issue_cwe_family", IdxField: "cwe_family"},
		{Collection: "issue", IdxName: "issue_scan_timestamp", IdxField: "scan_timestamp"},

		// Scan collection indexes - latest-scan lookups per repo
		{Collection: "scan", IdxName: "scan_repo_url", IdxField: "repo_url"},
		{Collection: "scan", IdxName: "scan_scanned_at", IdxField: "scanned_at"},
		{Collection: "scan", IdxName: "scan_has_fingerprints", IdxField: "has_fingerprints"},

		// Repo registry indexes
		{Collection: "repoconfig", IdxName: "repoconfig_repo_url", IdxField: "repo_url"},
		{Collection: "repoconfig", IdxName: "repoconfig_importance", IdxField: "importance_score"},

		// Objective indexes
		{Collection: "objective", IdxName: "objective_name", IdxField: "name"},
		{Collection: "objective", IdxName: "objective_severity", IdxField: "target_severity"},

		// Session indexes - status feed reconciliation
		{Collection: "session", IdxName: "session_id", IdxField: "session_id"},
		{Collection: "session", IdxName: "session_repo_url", IdxField: "repo_url"},
		{Collection: "session", IdxName: "session_cycle_id", IdxField: "cycle_id"},
		{Collection: "session", IdxName: "session_status", IdxField: "status"},

		// Cycle report indexes
		{Collection: "cycle", IdxName: "cycle_id", IdxField: "cycle_id"},
		{Collection: "cycle", IdxName: "cycle_started_at", IdxField: "started_at"},

		// Audit trail indexes - export is queried by fingerprint
		{Collection: "dispatch_audit", IdxName: "audit_fingerprint", IdxField: "fingerprint"},
		{Collection: "dispatch_audit", IdxName: "audit_cycle_id", IdxField: "cycle_id"},
		{Collection: "dispatch_audit", IdxName: "audit_recorded_at", IdxField: "recorded_at"},
	}

	for _, idx := range idxList {
		found := false

		if indexes, err := collections[idx.Collection].Indexes(ctx); err == nil {
			for _, index := range indexes {
				if idx.IdxName == index.Name {
					found = true
					break
				}
			}
		}

		if !found {
			// Define the index options
			indexOptions := arangodb.CreatePersistentIndexOptions{
				Unique: &False,
				Sparse: &False,
				Name:   idx.IdxName,
			}

			// Create the index
			_, _, err = collections[idx.Collection].EnsurePersistentIndex(ctx, []string{idx.IdxField}, &indexOptions)
			if err != nil {
				logger.Sugar().Fatalln("Error creating index:", err)
			} else {
				logger.Sugar().Infof("Created index: %s on %s.%s", idx.IdxName, idx.Collection, idx.IdxField)
			}
		}
	}

	//
	// Create composite indexes (multi-field indexes)
	//

	// Unique composite index - one issue document per (repo, fingerprint)
	issueIdentityIdx := "issue_repo_fingerprint_unique"
	found := false
	if indexes, err := collections["issue"].Indexes(ctx); err == nil {
		for _, index := range indexes {
			if issueIdentityIdx == index.Name {
				found = true
				break
			}
		}
	}
	if !found {
		uniqueIdxOptions := arangodb.CreatePersistentIndexOptions{
			Unique: &True,
			Sparse: &False,
			Name:   issueIdentityIdx,
		}
		_, _, err = collections["issue"].EnsurePersistentIndex(ctx, []string{"repo_url", "fingerprint"}, &uniqueIdxOptions)
		if err != nil {
			logger.Sugar().Fatalln("Error creating unique index on issue identity:", err)
		} else {
			logger.Sugar().Infof("Created unique index: %s on issue", issueIdentityIdx)
		}
	}

	// Composite index for latest-scan lookups by repo + timestamp
	scanRepoTimestampIdx := "scan_repo_timestamp"
	found = false
	if indexes, err := collections["scan"].Indexes(ctx); err == nil {
		for _, index := range indexes {
			if scanRepoTimestampIdx == index.Name {
				found = true
				break
			}
		}
	}
	if !found {
		compositeIdxOptions := arangodb.CreatePersistentIndexOptions{
			Unique: &False,
			Sparse: &False,
			Name:   scanRepoTimestampIdx,
		}
		_, _, err = collections["scan"].EnsurePersistentIndex(ctx, []string{"repo_url", "scanned_at"}, &compositeIdxOptions)
		if err != nil {
			logger.Sugar().Fatalln("Error creating composite index:", err)
		} else {
			logger.Sugar().Infof("Created composite index: %s on scan", scanRepoTimestampIdx)
		}
	}

	// Composite index for current-issue lookups by repo + scan timestamp
	issueRepoScanIdx := "issue_repo_scan_timestamp"
	found = false
	if indexes, err := collections["issue"].Indexes(ctx); err == nil {
		for _, index := range indexes {
			if issueRepoScanIdx == index.Name {
				found = true
				break
			}
		}
	}
	if !found {
		compositeIdxOptions := arangodb.CreatePersistentIndexOptions{
			Unique: &False,
			Sparse: &False,
			Name:   issueRepoScanIdx,
		}
		_, _, err = collections["issue"].EnsurePersistentIndex(ctx, []string{"repo_url", "scan_timestamp"}, &compositeIdxOptions)
		if err != nil {
			logger.Sugar().Fatalln("Error creating composite index:", err)
		} else {
			logger.Sugar().Infof("Created composite index: %s on issue", issueRepoScanIdx)
		}
	}

	// Unique index on repo registry entries
	repoUniqueIdx := "repoconfig_repo_url_unique"
	found = false
	if indexes, err := collections["repoconfig"].Indexes(ctx); err == nil {
		for _, index := range indexes {
			if repoUniqueIdx == index.Name {
				found = true
				break
			}
		}
	}
	if !found {
		uniqueIdxOptions := arangodb.CreatePersistentIndexOptions{
			Unique: &True,
			Sparse: &False,
			Name:   repoUniqueIdx,
		}
		_, _, err = collections["repoconfig"].EnsurePersistentIndex(ctx, []string{"repo_url"}, &uniqueIdxOptions)
		if err != nil {
			logger.Sugar().Fatalln("Error creating unique index on repoconfig:", err)
		} else {
			logger.Sugar().Infof("Created unique index: %s on repoconfig", repoUniqueIdx)
		}
	}

	// Unique index on session ids from the agent platform
	sessionUniqueIdx := "session_id_unique"
	found = false
	if indexes, err := collections["session"].Indexes(ctx); err == nil {
		for _, index := range indexes {
			if sessionUniqueIdx == index.Name {
				found = true
				break
			}
		}
	}
	if !found {
		uniqueIdxOptions := arangodb.CreatePersistentIndexOptions{
			Unique: &True,
			Sparse: &False,
			Name:   sessionUniqueIdx,
		}
		_, _, err = collections["session"].EnsurePersistentIndex(ctx, []string{"session_id"}, &uniqueIdxOptions)
		if err != nil {
			logger.Sugar().Fatalln("Error creating unique index on session:", err)
		} else {
			logger.Sugar().Infof("Created unique index: %s on session", sessionUniqueIdx)
		}
	}

	initDone = true

	dbConnection = DBConnection{
		Database:    db,
		Collections: collections,
	}

	logger.Sugar().Infof("Database initialization complete with dispatch history and audit trail collections")

	return dbConnection
}
