package blob

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Open selects and constructs a blob store from the environment.
//
//	CYCLECORE_BLOB_DRIVER=fs|s3|memory (default fs)
//	CYCLECORE_BLOB_FS_ROOT=<dir> (fs driver, default ./archive)
func Open(ctx context.Context) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("CYCLECORE_BLOB_DRIVER")))
	switch Driver(driver) {
	case "", DriverFilesystem:
		root := os.Getenv("CYCLECORE_BLOB_FS_ROOT")
		return NewFilesystem(root)
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}
