package optout

import (
	"sync"

	"github.com/nguyentantai21042004/voicebrief/internal/logger"
)

// FileRegistry is the JSON-array-on-disk Registry implementation.
type FileRegistry struct {
	mu     sync.Mutex
	path   string
	set    map[string]struct{}
	loaded bool
	logger logger.Logger
}

// New creates a Registry persisted as a JSON array at path. The file is
// loaded lazily on first use.
func New(path string, log logger.Logger) *FileRegistry {
	return &FileRegistry{
		path:   path,
		logger: log,
	}
}
