package board

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bubbleboard/internal/broker"
	"bubbleboard/internal/ingest"
	"bubbleboard/internal/metrics"
	"bubbleboard/internal/model"
	"bubbleboard/internal/persist"
	"bubbleboard/internal/store"
)

// Snapshotter persists the full message history.
type Snapshotter interface {
	Save(records []model.Message) error
}

// AuditWriter receives best-effort audit lines.
type AuditWriter interface {
	AppendPublic(line string)
	AppendEmail(line string)
}

// Archiver mirrors accepted messages somewhere secondary.
type Archiver interface {
	Record(m model.Message)
}

// Publisher delivers redacted messages to connected clients.
type Publisher interface {
	Register(conn broker.Conn, id string, init []model.View)
	Unregister(conn broker.Conn)
	Broadcast(v model.View)
}

// Deps holds Board collaborators. Archive and Now are optional.
type Deps struct {
	Store     *store.MessageStore
	Snapshots Snapshotter
	Audit     AuditWriter
	Archive   Archiver
	Publisher Publisher
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Board runs the submission pipeline. One mutex covers append, snapshot
// and broadcast so every client observes the store's append order.
type Board struct {
	mu        sync.Mutex
	store     *store.MessageStore
	snapshots Snapshotter
	audit     AuditWriter
	archive   Archiver
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a Board.
func New(deps Deps) *Board {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }
	}
	return &Board{
		store:     deps.Store,
		snapshots: deps.Snapshots,
		audit:     deps.Audit,
		archive:   deps.Archive,
		publisher: deps.Publisher,
		logger:    deps.Logger.With().Str("component", "board").Logger(),
		now:       now,
	}
}

// Submit validates payload and, if accepted, stores, persists, audits and
// broadcasts the resulting message. Rejections have no side effects.
func (b *Board) Submit(payload json.RawMessage, originIP string) (model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, err := ingest.Validate(payload, originIP, b.now())
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ingest.ErrTextMissing) {
			reason = "empty_text"
		}
		metrics.SubmissionsRejected.WithLabelValues(reason).Inc()
		b.logger.Debug().Err(err).Str("ip", originIP).Msg("submission rejected")
		return model.Message{}, err
	}

	index := b.store.Append(msg)

	// スナップショット失敗でも配信は止めない
	if err := b.snapshots.Save(b.store.Snapshot()); err != nil {
		metrics.PersistenceFailures.WithLabelValues("snapshot").Inc()
		b.logger.Error().Err(err).Int("index", index).Msg("failed to save snapshot")
	}

	b.audit.AppendPublic(persist.PublicLine(msg))
	if msg.HasEmail() {
		b.audit.AppendEmail(persist.EmailLine(msg))
	}
	if b.archive != nil {
		b.archive.Record(msg)
	}

	b.publisher.Broadcast(model.ForBroadcast(msg))
	metrics.MessagesAccepted.Inc()

	b.logger.Info().
		Int("index", index).
		Str("text", msg.Text).
		Bool("has_email", msg.HasEmail()).
		Msg("message accepted")

	return msg, nil
}

// Join registers conn with the publisher along with the current history.
// Holding the pipeline lock means no submission can fall between the
// resync and the first broadcast the client sees.
func (b *Board) Join(conn broker.Conn, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publisher.Register(conn, id, model.ForResync(b.store.Snapshot()))
}

// Leave removes conn from the publisher once its transport has closed.
func (b *Board) Leave(conn broker.Conn) {
	b.publisher.Unregister(conn)
}

// Len returns the number of stored messages.
func (b *Board) Len() int {
	return b.store.Len()
}
