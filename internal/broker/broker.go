package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bubbleboard/internal/metrics"
	"bubbleboard/internal/model"
)

const eventBufferSize = 256

// Conn is the part of a websocket connection the broker writes to.
// *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type eventKind int

const (
	eventRegister eventKind = iota
	eventUnregister
	eventBroadcast
)

type event struct {
	kind eventKind
	conn Conn
	id   string
	init []model.View
	view model.View
}

// Broker fans board events out to every connected client. Run is the only
// goroutine that writes to connections, so events reach each client in the
// order they were enqueued.
type Broker struct {
	events       chan event
	done         chan struct{}
	writeTimeout time.Duration
	logger       zerolog.Logger

	mu      sync.RWMutex
	clients map[Conn]string
}

// New creates a broker; call Run to start delivering.
func New(writeTimeout time.Duration, logger zerolog.Logger) *Broker {
	return &Broker{
		events:       make(chan event, eventBufferSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger.With().Str("component", "broker").Logger(),
		clients:      make(map[Conn]string),
	}
}

// Register queues conn to receive the init resync followed by every later broadcast.
func (b *Broker) Register(conn Conn, id string, init []model.View) {
	b.enqueue(event{kind: eventRegister, conn: conn, id: id, init: init})
}

// Unregister queues removal of conn. Unknown connections are ignored.
func (b *Broker) Unregister(conn Conn) {
	b.enqueue(event{kind: eventUnregister, conn: conn})
}

// Broadcast queues v for every registered connection.
func (b *Broker) Broadcast(v model.View) {
	b.enqueue(event{kind: eventBroadcast, view: v})
}

// enqueue blocks while the buffer is full; after Run returns events are discarded.
func (b *Broker) enqueue(ev event) {
	select {
	case <-b.done:
		b.discard(ev)
		return
	default:
	}

	select {
	case b.events <- ev:
	case <-b.done:
		b.discard(ev)
	}
}

func (b *Broker) discard(ev event) {
	if ev.kind == eventRegister {
		ev.conn.Close()
	}
}

// Count returns the number of registered connections.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Run delivers queued events until ctx is done, then closes every connection.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return
		case ev := <-b.events:
			b.handle(ev)
		}
	}
}

func (b *Broker) handle(ev event) {
	switch ev.kind {
	case eventRegister:
		if err := b.write(ev.conn, model.OutboundEvent{Type: model.EventInit, Payload: ev.init}); err != nil {
			b.logger.Warn().Err(err).Str("conn", ev.id).Msg("failed to send init, dropping client")
			ev.conn.Close()
			return
		}
		b.mu.Lock()
		b.clients[ev.conn] = ev.id
		total := len(b.clients)
		b.mu.Unlock()
		metrics.ConnectedClients.Set(float64(total))
		b.logger.Info().Str("conn", ev.id).Int("history", len(ev.init)).Int("clients", total).Msg("client registered")

	case eventUnregister:
		b.drop(ev.conn, "client disconnected")

	case eventBroadcast:
		// 送信中に map を変更しないようスナップショットを取る
		b.mu.RLock()
		snapshot := make([]Conn, 0, len(b.clients))
		for c := range b.clients {
			snapshot = append(snapshot, c)
		}
		b.mu.RUnlock()

		out := model.OutboundEvent{Type: model.EventNewText, Payload: ev.view}
		for _, c := range snapshot {
			if err := b.write(c, out); err != nil {
				b.logger.Warn().Err(err).Msg("broadcast write failed")
				b.drop(c, "client dropped")
			}
		}
	}
}

func (b *Broker) write(c Conn, v interface{}) error {
	if b.writeTimeout > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(b.writeTimeout)); err != nil {
			return err
		}
	}
	return c.WriteJSON(v)
}

func (b *Broker) drop(c Conn, reason string) {
	b.mu.Lock()
	id, ok := b.clients[c]
	delete(b.clients, c)
	total := len(b.clients)
	b.mu.Unlock()
	if !ok {
		return
	}

	c.Close()
	metrics.ConnectedClients.Set(float64(total))
	b.logger.Info().Str("conn", id).Int("clients", total).Msg(reason)
}

func (b *Broker) closeAll() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[Conn]string)
	b.mu.Unlock()

	for c := range clients {
		c.Close()
	}
	metrics.ConnectedClients.Set(0)
	b.logger.Info().Int("clients", len(clients)).Msg("broker stopped")
}
