package transcript

import (
	"context"
	"log/slog"
	"strings"
)

// NewStore picks the transcript backend: postgres when databaseURL is set,
// an embedded badger store under dataDir when only that is set, otherwise
// memory.
func NewStore(ctx context.Context, databaseURL, dataDir string, logger *slog.Logger) (Store, error) {
	switch {
	case strings.TrimSpace(databaseURL) != "":
		return NewPostgresStore(ctx, databaseURL)
	case strings.TrimSpace(dataDir) != "":
		return NewBadgerStore(BadgerOptions{Dir: strings.TrimSpace(dataDir), Logger: logger})
	default:
		return NewInMemoryStore(), nil
	}
}
