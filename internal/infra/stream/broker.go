// Package stream makes in-flight assistant output resumable. Each
// conversation turn opens a stream; subscribers that arrive late replay
// the buffered events and then follow live ones. Losing the broker only
// loses resumability, never the primary response path.
package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

var streamBucket = []byte("streams")

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// stalls past it is dropped rather than allowed to stall the publisher.
const subscriberBuffer = 256

// Stream is one turn's live event feed with a full replay buffer.
type Stream struct {
	handle domain.StreamHandle

	mu     sync.Mutex
	buffer []domain.StreamEvent
	subs   map[int]chan domain.StreamEvent
	nextID int
	closed bool

	logger *zap.Logger
}

// Handle returns the stream's persistent identity.
func (s *Stream) Handle() domain.StreamHandle { return s.handle }

// Publish appends one event to the replay buffer and fans it out. A
// subscriber whose channel is full is dropped.
func (s *Stream) Publish(event domain.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buffer = append(s.buffer, event)
	for id, sub := range s.subs {
		select {
		case sub <- event:
		default:
			s.logger.Warn("dropping stalled stream subscriber",
				zap.String("stream", s.handle.ID))
			close(sub)
			delete(s.subs, id)
		}
	}
}

// Close marks the turn complete. Live subscribers see their channels
// close; the replay buffer stays available until the stream is
// superseded.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		close(sub)
		delete(s.subs, id)
	}
}

// subscribe replays the buffer into a fresh channel and, if the stream
// is still live, registers it for subsequent events.
func (s *Stream) subscribe() (<-chan domain.StreamEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan domain.StreamEvent, subscriberBuffer+len(s.buffer))
	for _, event := range s.buffer {
		ch <- event
	}
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			close(sub)
			delete(s.subs, id)
		}
	}
	return ch, cancel
}

// Broker tracks the latest stream per conversation and persists the
// handles so stale resume requests can be distinguished from unknown
// ones after a restart.
type Broker struct {
	db     *bolt.DB
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	streams map[string]*Stream
}

func NewBroker(db *bolt.DB, logger *zap.Logger) (*Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if db != nil {
		err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(streamBucket)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return &Broker{
		db:      db,
		logger:  logger.Named("stream-broker"),
		now:     time.Now,
		streams: make(map[string]*Stream),
	}, nil
}

// Open starts a new stream for the conversation, superseding and closing
// any previous one. Handle persistence is best effort.
func (b *Broker) Open(conversationID string) *Stream {
	handle := domain.StreamHandle{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		CreatedAt:      b.now(),
	}
	stream := &Stream{
		handle: handle,
		subs:   make(map[int]chan domain.StreamEvent),
		logger: b.logger,
	}

	b.mu.Lock()
	previous := b.streams[conversationID]
	b.streams[conversationID] = stream
	b.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	b.persistHandle(handle)
	return stream
}

// Resume subscribes to the conversation's latest stream, replaying
// everything published so far. A conversation whose handle survived a
// restart but whose event buffer did not gets an already-finished
// stream, so the client falls back to the persisted transcript instead
// of treating the conversation as unknown. Returns
// domain.ErrStreamNotFound when no turn was ever streamed.
func (b *Broker) Resume(conversationID string) (<-chan domain.StreamEvent, func(), error) {
	b.mu.Lock()
	stream := b.streams[conversationID]
	b.mu.Unlock()

	if stream == nil {
		if _, err := b.Handle(conversationID); err != nil {
			return nil, nil, domain.ErrStreamNotFound
		}
		ch := make(chan domain.StreamEvent)
		close(ch)
		return ch, func() {}, nil
	}
	ch, cancel := stream.subscribe()
	return ch, cancel, nil
}

// Handle returns the persisted handle for the conversation's latest
// turn, surviving restarts even though the event buffer does not.
func (b *Broker) Handle(conversationID string) (domain.StreamHandle, error) {
	if b.db == nil {
		return domain.StreamHandle{}, domain.ErrStreamNotFound
	}
	var handle domain.StreamHandle
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(streamBucket).Get([]byte(conversationID))
		if raw == nil {
			return domain.ErrStreamNotFound
		}
		return json.Unmarshal(raw, &handle)
	})
	if err != nil {
		return domain.StreamHandle{}, err
	}
	return handle, nil
}

// Drop forgets the conversation's stream, closing it if live.
func (b *Broker) Drop(conversationID string) {
	b.mu.Lock()
	stream := b.streams[conversationID]
	delete(b.streams, conversationID)
	b.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	if b.db != nil {
		err := b.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(streamBucket).Delete([]byte(conversationID))
		})
		if err != nil {
			b.logger.Warn("stream handle delete failed",
				zap.String("conversation", conversationID), zap.Error(err))
		}
	}
}

func (b *Broker) persistHandle(handle domain.StreamHandle) {
	if b.db == nil {
		return
	}
	raw, err := json.Marshal(handle)
	if err != nil {
		return
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(streamBucket).Put([]byte(handle.ConversationID), raw)
	})
	if err != nil {
		b.logger.Warn("stream handle persist failed",
			zap.String("conversation", handle.ConversationID), zap.Error(err))
	}
}
