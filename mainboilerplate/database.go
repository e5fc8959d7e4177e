package mainboilerplate

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.rowset.dev/core/resultset"
	"go.rowset.dev/core/sqlsource"
)

// DatabaseConfig configures the database connection of the application.
type DatabaseConfig struct {
	Dialect      string `long:"dialect" env:"DIALECT" default:"sqlite" choice:"sqlite" choice:"postgres" description:"SQL dialect of the database"`
	DSN          string `long:"dsn" env:"DSN" default:"rowset.db" description:"Data source name of the database. For sqlite, a file path; for postgres, a connection URL or key/value string"`
	ManualCommit bool   `long:"manual-commit" env:"MANUAL_COMMIT" description:"Apply changes within a single transaction, protected by savepoints"`

	Cache struct {
		Size int           `long:"cache.size" env:"CACHE_SIZE" default:"256" description:"Size of the entity metadata cache. If <= zero, no cache is used"`
		TTL  time.Duration `long:"cache.ttl" env:"CACHE_TTL" default:"5m" description:"Time-to-live of entity metadata cache entries"`
	}
}

// MustOpen opens and pings the configured database.
func (c *DatabaseConfig) MustOpen(ctx context.Context) *sqlsource.Source {
	var dialect, err = sqlsource.ParseDialect(c.Dialect)
	Must(err, "invalid dialect", "dialect", c.Dialect)

	src, err := sqlsource.Open(ctx, dialect, c.DSN)
	Must(err, "failed to open database", "dialect", dialect)

	src.ManualCommit = c.ManualCommit
	if c.Cache.Size <= 0 {
		src.Metadata = nil
	} else {
		src.Metadata = sqlsource.NewMetadataCache(c.Cache.Size, c.Cache.TTL)
	}

	log.WithFields(log.Fields{
		"dialect":      dialect,
		"manualCommit": c.ManualCommit,
	}).Debug("opened database")
	return src
}

// ResultSetConfig configures the reading and editing of result sets.
type ResultSetConfig struct {
	NoMetadata         bool   `long:"no-metadata" env:"NO_METADATA" description:"Disable discovery of entities and keys. All columns are read-only"`
	NoReferences       bool   `long:"no-references" env:"NO_REFERENCES" description:"Disable binding of foreign key references"`
	SingleRowMode      bool   `long:"single-row-mode" env:"SINGLE_ROW_MODE" description:"Report single-row mode when a read returns exactly one row"`
	RefreshAfterUpdate bool   `long:"refresh-after-update" env:"REFRESH_AFTER_UPDATE" description:"Re-read after successfully applying changes"`
	CancelTimeout      int    `long:"cancel-timeout-ms" env:"CANCEL_TIMEOUT_MS" default:"5000" description:"Milliseconds after cancellation at which a stuck read is abandoned. Zero disables"`
	AllColumnsAsKey    bool   `long:"all-columns-as-key" env:"ALL_COLUMNS_AS_KEY" description:"Use all columns to identify rows of entities having no key"`
	SegmentSize        int    `long:"segment-size" env:"SEGMENT_SIZE" default:"200" description:"Rows read per page. Zero reads all rows"`
	UnreflectRollback  bool   `long:"unreflect-rollback" env:"UNREFLECT_ROLLBACK" description:"Keep all changes of a failed commit pending if it was rolled back to a savepoint"`
	VirtualKeysDir     string `long:"virtual-keys-dir" env:"VIRTUAL_KEYS_DIR" description:"Directory of persisted virtual keys. If empty, virtual keys aren't persisted"`
}

// Config returns the resultset.Config of the ResultSetConfig.
func (c ResultSetConfig) Config() resultset.Config {
	return resultset.Config{
		ReadMetadata:                !c.NoMetadata,
		ReadReferences:              !c.NoReferences,
		AutoSwitchSingleRowMode:     c.SingleRowMode,
		RefreshAfterUpdate:          c.RefreshAfterUpdate,
		CancelForceTimeoutMs:        c.CancelTimeout,
		UseAllColumnsAsKeyByDefault: c.AllColumnsAsKey,
		SegmentSize:                 c.SegmentSize,
		UnreflectRolledBack:         c.UnreflectRollback,
		VirtualKeysDir:              c.VirtualKeysDir,
	}
}
