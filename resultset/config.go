package resultset

import (
	"time"

	"github.com/spf13/afero"
	"go.rowset.dev/core/identifier"
)

// Config of a Controller.
type Config struct {
	// ReadMetadata enables discovery of entities and identifiers of read
	// results. If false, all attributes are read-only.
	ReadMetadata bool
	// ReadReferences enables late binding of foreign key references.
	ReadReferences bool
	// AutoSwitchSingleRowMode reports SingleRowMode when a refresh reads
	// exactly one row.
	AutoSwitchSingleRowMode bool
	// RefreshAfterUpdate re-reads the first page after a successful commit.
	RefreshAfterUpdate bool
	// CancelForceTimeoutMs is the grace period after Cancel, after which a
	// read which hasn't stopped is abandoned. Zero disables the watchdog.
	CancelForceTimeoutMs int
	// UseAllColumnsAsKeyByDefault binds virtual identifiers having no
	// declared columns to all fetched attributes of their entity.
	UseAllColumnsAsKeyByDefault bool
	// SegmentSize is the number of rows read per page. Zero reads all rows.
	SegmentSize int
	// UnreflectRolledBack keeps all changes of a failed commit pending when
	// its statements were rolled back to a savepoint.
	UnreflectRolledBack bool
	// VirtualKeysDir is a directory of persisted virtual identifiers. If
	// empty, virtual identifiers are held in memory only.
	VirtualKeysDir string
}

// DefaultConfig returns the default Config.
func DefaultConfig() Config {
	return Config{
		ReadMetadata:         true,
		ReadReferences:       true,
		CancelForceTimeoutMs: 5000,
		SegmentSize:          200,
	}
}

func (c Config) cancelForceTimeout() time.Duration {
	return time.Duration(c.CancelForceTimeoutMs) * time.Millisecond
}

// VirtualKeyStore returns the VirtualKeyStore of the Config.
func (c Config) VirtualKeyStore() (identifier.VirtualKeyStore, error) {
	if c.VirtualKeysDir == "" {
		return identifier.NewMemoryVirtualKeyStore(), nil
	}
	return identifier.NewFileVirtualKeyStore(afero.NewOsFs(), c.VirtualKeysDir)
}
