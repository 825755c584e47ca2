package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/moby/sys/atomicwriter"
	"github.com/rs/zerolog"

	"bubbleboard/internal/metrics"
	"bubbleboard/internal/model"
)

// SnapshotStore keeps the full message history in a single JSON file.
type SnapshotStore struct {
	path   string
	logger zerolog.Logger
}

// NewSnapshotStore creates a snapshot store backed by path.
func NewSnapshotStore(path string, logger zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		path:   path,
		logger: logger.With().Str("component", "snapshot").Logger(),
	}
}

// Path returns the snapshot file location.
func (s *SnapshotStore) Path() string {
	return s.path
}

// Load reads the persisted history. A missing, unreadable or corrupt file
// yields an empty history; startup never fails here.
func (s *SnapshotStore) Load() []model.Message {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info().Str("path", s.path).Msg("no snapshot found, starting empty")
		return []model.Message{}
	}
	if err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("failed to read snapshot, starting empty")
		return []model.Message{}
	}

	var messages []model.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("snapshot is not valid JSON, starting empty")
		return []model.Message{}
	}
	if messages == nil {
		messages = []model.Message{}
	}

	s.logger.Info().Int("messages", len(messages)).Str("path", s.path).Msg("snapshot loaded")
	return messages
}

// Save writes records to a temp file next to the target and renames it into
// place, so readers only ever see a complete snapshot.
func (s *SnapshotStore) Save(records []model.Message) error {
	start := time.Now()
	defer func() {
		metrics.SnapshotLatency.Observe(time.Since(start).Seconds())
	}()

	if records == nil {
		records = []model.Message{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	// atomicwriter は同じディレクトリの一時ファイルに書いてから rename する
	if err := atomicwriter.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
