package render

import (
	"os"

	"weaver/internal/pkg/logger"
)

// removeLocal deletes an intermediate render file. A file that is already
// gone is not an error.
func removeLocal(log *logger.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove local render file", "path", path, "error", err.Error())
		return
	}
	log.Debug("removed local render file", "path", path)
}
