package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ErrMaxAttempts is returned by a delivery's Retry when no attempts remain.
var ErrMaxAttempts = errors.New("max delivery attempts reached")

// queuedMessage is the internal structure stored in Badger
type queuedMessage struct {
	ID           string          `json:"id"`
	Batch        models.JobBatch `json:"batch"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAt    time.Time       `json:"visible_at"`
	ReceiveCount int             `json:"receive_count"`
	// Claimed distinguishes a worker-held message from one parked in retry
	// backoff; both carry a future VisibleAt.
	Claimed bool `json:"claimed"`
}

// BadgerManager implements a persistent at-least-once queue using BadgerDB.
//
// Layout:
//
//	queue:{name}:msg:{id}                  -> message JSON
//	queue:{name}:index:{visibleAt}:{id}    -> empty (visibility index)
//	queue:{name}:stat:{completed|failed}   -> counter
//
// The visibility index key embeds the zero-padded VisibleAt nanosecond
// timestamp, so iterating the prefix yields messages in ready order and the
// scan can stop at the first future timestamp.
type BadgerManager struct {
	db     *badger.DB
	config Config
}

// NewBadgerManager creates a new Badger-backed queue manager
func NewBadgerManager(db *badger.DB, config Config) (*BadgerManager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if config.QueueName == "" {
		return nil, errors.New("queue name is required")
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 5 * time.Minute
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 2 * time.Second
	}

	return &BadgerManager{db: db, config: config}, nil
}

// Enqueue adds a batch to the queue, immediately visible.
func (m *BadgerManager) Enqueue(ctx context.Context, batch *models.JobBatch) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	qMsg := queuedMessage{
		ID:         uuid.New().String(),
		Batch:      *batch,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now(),
	}

	data, err := json.Marshal(qMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(m.msgKey(qMsg.ID), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(qMsg.VisibleAt, qMsg.ID), []byte{})
	})
}

// Receive claims the next visible batch. The claim increments the receive
// count and pushes visibility out by the visibility timeout, so a crashed
// worker's batch is redelivered. Returns models.ErrNoMessage when nothing is
// ready.
func (m *BadgerManager) Receive(ctx context.Context) (*models.JobBatch, *interfaces.Delivery, error) {
	var qMsg queuedMessage

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := m.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue // Skip unparseable keys
			}
			if ts.After(now) {
				// Keys are sorted by timestamp; nothing later is ready either.
				break
			}

			itemMsg, err := txn.Get(m.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Dangling index entry; clean it up and keep scanning.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}
			if err := itemMsg.Value(func(val []byte) error {
				return json.Unmarshal(val, &qMsg)
			}); err != nil {
				return err
			}

			// Claim: bump receive count, make invisible for the timeout.
			qMsg.ReceiveCount++
			qMsg.VisibleAt = now.Add(m.config.VisibilityTimeout)
			qMsg.Claimed = true

			newData, err := json.Marshal(qMsg)
			if err != nil {
				return err
			}
			if err := txn.Set(m.msgKey(id), newData); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			return txn.Set(m.indexKey(qMsg.VisibleAt, id), []byte{})
		}

		return models.ErrNoMessage
	})
	if err != nil {
		return nil, nil, err
	}

	msgID := qMsg.ID
	delivery := &interfaces.Delivery{
		MessageID:   msgID,
		Attempt:     qMsg.ReceiveCount,
		MaxAttempts: m.config.MaxAttempts,
		Ack: func() error {
			return m.remove(msgID, statCompleted)
		},
		Retry: func() error {
			return m.reschedule(msgID)
		},
		Fail: func() error {
			return m.remove(msgID, statFailed)
		},
	}

	batch := qMsg.Batch
	return &batch, delivery, nil
}

const (
	statCompleted = "completed"
	statFailed    = "failed"
)

// remove deletes a message and bumps the given terminal counter.
func (m *BadgerManager) remove(msgID, stat string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		qMsg, err := m.getMessage(txn, msgID)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // Already removed
			}
			return err
		}

		if err := txn.Delete(m.indexKey(qMsg.VisibleAt, msgID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Delete(m.msgKey(msgID)); err != nil {
			return err
		}
		return m.incrementStat(txn, stat)
	})
}

// reschedule makes a message visible again after an exponential backoff
// delay derived from its receive count. Fails with ErrMaxAttempts when the
// message has been delivered its maximum number of times.
func (m *BadgerManager) reschedule(msgID string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		qMsg, err := m.getMessage(txn, msgID)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}

		if qMsg.ReceiveCount >= m.config.MaxAttempts {
			return ErrMaxAttempts
		}

		oldVisibleAt := qMsg.VisibleAt
		qMsg.VisibleAt = time.Now().Add(m.backoffDelay(qMsg.ReceiveCount))
		qMsg.Claimed = false

		newData, err := json.Marshal(qMsg)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(msgID), newData); err != nil {
			return err
		}
		if err := txn.Delete(m.indexKey(oldVisibleAt, msgID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(m.indexKey(qMsg.VisibleAt, msgID), []byte{})
	})
}

// backoffDelay doubles per attempt: base, 2*base, 4*base, ...
func (m *BadgerManager) backoffDelay(attempt int) time.Duration {
	delay := m.config.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// Stats returns queue delivery counters. Waiting/active are derived from the
// live messages; completed/failed are persisted counters. Messages parked in
// retry backoff count as waiting, only worker-held claims count as active.
func (m *BadgerManager) Stats(ctx context.Context) (*interfaces.QueueStats, error) {
	stats := &interfaces.QueueStats{}

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := m.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ts, id, err := m.parseIndexKey(it.Item().Key())
			if err != nil {
				continue
			}
			if !ts.After(now) {
				stats.Waiting++
				continue
			}
			qMsg, err := m.getMessage(txn, id)
			if err != nil {
				continue // Dangling index entry
			}
			if qMsg.Claimed {
				stats.Active++
			} else {
				stats.Waiting++
			}
		}

		var err error
		if stats.Completed, err = m.readStat(txn, statCompleted); err != nil {
			return err
		}
		if stats.Failed, err = m.readStat(txn, statFailed); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return stats, nil
}

// RemoveByRunID deletes all queued batches for a run. Used when a run's
// history is deleted so orphaned work never writes to a deleted record.
func (m *BadgerManager) RemoveByRunID(ctx context.Context, runID string) (int, error) {
	removed := 0
	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := m.msgPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		type target struct {
			id        string
			visibleAt time.Time
		}
		var targets []target

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var qMsg queuedMessage
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &qMsg)
			}); err != nil {
				continue
			}
			if qMsg.Batch.RunID == runID {
				targets = append(targets, target{id: qMsg.ID, visibleAt: qMsg.VisibleAt})
			}
		}

		for _, t := range targets {
			if err := txn.Delete(m.msgKey(t.id)); err != nil {
				return err
			}
			if err := txn.Delete(m.indexKey(t.visibleAt, t.id)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to remove batches for run %s: %w", runID, err)
	}
	return removed, nil
}

// DrainAll removes every message and resets the counters.
func (m *BadgerManager) DrainAll(ctx context.Context) error {
	prefix := []byte(fmt.Sprintf("queue:%s:", m.config.QueueName))
	return m.db.DropPrefix(prefix)
}

// Close closes the queue manager (the DB is managed externally)
func (m *BadgerManager) Close() error {
	return nil
}

// Helpers

func (m *BadgerManager) getMessage(txn *badger.Txn, msgID string) (*queuedMessage, error) {
	item, err := txn.Get(m.msgKey(msgID))
	if err != nil {
		return nil, err
	}
	var qMsg queuedMessage
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &qMsg)
	}); err != nil {
		return nil, err
	}
	return &qMsg, nil
}

func (m *BadgerManager) incrementStat(txn *badger.Txn, stat string) error {
	current, err := m.readStat(txn, stat)
	if err != nil {
		return err
	}
	return txn.Set(m.statKey(stat), []byte(strconv.Itoa(current+1)))
}

func (m *BadgerManager) readStat(txn *badger.Txn, stat string) (int, error) {
	item, err := txn.Get(m.statKey(stat))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return 0, nil
		}
		return 0, err
	}
	var count int
	err = item.Value(func(val []byte) error {
		count, _ = strconv.Atoi(string(val))
		return nil
	})
	return count, err
}

func (m *BadgerManager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.config.QueueName, id))
}

func (m *BadgerManager) msgPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:", m.config.QueueName))
}

func (m *BadgerManager) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string ordering matches numeric ordering
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.config.QueueName, visibleAt.UnixNano(), id))
}

func (m *BadgerManager) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", m.config.QueueName))
}

func (m *BadgerManager) statKey(stat string) []byte {
	return []byte(fmt.Sprintf("queue:%s:stat:%s", m.config.QueueName, stat))
}

func (m *BadgerManager) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := m.indexPrefix()
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefix):])
	// Suffix is "{20-digit-ts}:{id}"
	if len(suffix) < 22 {
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	ts, err := strconv.ParseInt(suffix[:20], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}
