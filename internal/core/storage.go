package core

import (
	"fmt"
	"os"

	"cyclecore/internal/infra/persistence/memory"
	"cyclecore/internal/infra/persistence/postgres"
	"cyclecore/internal/infra/persistence/sqlite"
	"cyclecore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenCycleStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	CYCLECORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	CYCLECORE_SQLITE_PATH: path to sqlite file (default ./cyclecore.db)
//	CYCLECORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenCycleStore() (domain.CycleStore, error) {
	driver := os.Getenv("CYCLECORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("CYCLECORE_SQLITE_PATH"))
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("CYCLECORE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
