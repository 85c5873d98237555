// Package convstore persists conversations and their messages in bbolt.
package convstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"toolgate/internal/domain"
)

var (
	conversationBucket = []byte("conversations")
	messageBucket      = []byte("messages")
)

// storedMessage carries the insertion sequence so an upsert keeps the
// message's original position in the transcript.
type storedMessage struct {
	domain.Message
	Seq uint64 `json:"seq"`
}

type Store struct {
	db *bolt.DB
}

func New(db *bolt.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(conversationBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(messageBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ensure conversation buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Create persists a new conversation record.
func (s *Store) Create(conv domain.Conversation) error {
	if conv.ID == "" {
		return errors.New("conversation id is required")
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationBucket).Put([]byte(conv.ID), raw)
	})
}

// Get returns the conversation, or domain.ErrConversationNotFound.
func (s *Store) Get(id string) (domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(conversationBucket).Get([]byte(id))
		if raw == nil {
			return domain.ErrConversationNotFound
		}
		return json.Unmarshal(raw, &conv)
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

// ListByUser returns the user's conversations, most recent first.
func (s *Store) ListByUser(userID string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationBucket).ForEach(func(_, raw []byte) error {
			var conv domain.Conversation
			if err := json.Unmarshal(raw, &conv); err != nil {
				return err
			}
			if conv.UserID == userID {
				out = append(out, conv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateTitle sets the conversation title after it has been generated.
func (s *Store) UpdateTitle(id, title string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(conversationBucket)
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return domain.ErrConversationNotFound
		}
		var conv domain.Conversation
		if err := json.Unmarshal(raw, &conv); err != nil {
			return err
		}
		conv.Title = title
		updated, err := json.Marshal(conv)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), updated)
	})
}

// SaveMessages upserts messages by id within one transaction. New
// messages append; an existing id is rewritten in place.
func (s *Store) SaveMessages(conversationID string, messages []domain.Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(conversationBucket).Get([]byte(conversationID)) == nil {
			return domain.ErrConversationNotFound
		}
		bucket, err := tx.Bucket(messageBucket).CreateBucketIfNotExists([]byte(conversationID))
		if err != nil {
			return err
		}
		for _, msg := range messages {
			if msg.ID == "" {
				return errors.New("message id is required")
			}
			msg.ConversationID = conversationID
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = time.Now()
			}

			stored := storedMessage{Message: msg}
			if existing := bucket.Get([]byte(msg.ID)); existing != nil {
				var prev storedMessage
				if err := json.Unmarshal(existing, &prev); err == nil {
					stored.Seq = prev.Seq
				}
			}
			if stored.Seq == 0 {
				seq, err := bucket.NextSequence()
				if err != nil {
					return err
				}
				stored.Seq = seq
			}

			raw, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(msg.ID), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// Messages returns the conversation's transcript in insertion order.
func (s *Store) Messages(conversationID string) ([]domain.Message, error) {
	var stored []storedMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(conversationBucket).Get([]byte(conversationID)) == nil {
			return domain.ErrConversationNotFound
		}
		bucket := tx.Bucket(messageBucket).Bucket([]byte(conversationID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, raw []byte) error {
			var msg storedMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				return err
			}
			stored = append(stored, msg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Seq < stored[j].Seq })

	out := make([]domain.Message, 0, len(stored))
	for _, msg := range stored {
		out = append(out, msg.Message)
	}
	return out, nil
}

// Delete removes the conversation and its transcript.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(conversationBucket)
		if bucket.Get([]byte(id)) == nil {
			return domain.ErrConversationNotFound
		}
		if err := bucket.Delete([]byte(id)); err != nil {
			return err
		}
		messages := tx.Bucket(messageBucket)
		if messages.Bucket([]byte(id)) != nil {
			return messages.DeleteBucket([]byte(id))
		}
		return nil
	})
}
