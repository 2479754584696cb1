package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const bucketName = "transactions"

// BoltLedger implements Ledger on a single BoltDB file. Keys are
// {userId}#{unixNano:020d}#{recordId}, so a prefix scan over one
// user's keys yields that user's records in timestamp order. Bolt
// commits fsync before returning, which provides the durable-append
// contract; a crash mid-write is rolled back and never corrupts
// previously committed records.
type BoltLedger struct {
	db *bolt.DB
}

// Compile-time interface check.
var _ Ledger = (*BoltLedger)(nil)

// OpenBolt opens (or creates) the ledger file at the given path and
// ensures the transactions bucket exists.
func OpenBolt(path string) (*BoltLedger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger bucket: %w", err)
	}

	return &BoltLedger{db: db}, nil
}

// Close releases the database file lock.
func (l *BoltLedger) Close() error {
	return l.db.Close()
}

// recordKey builds the sortable bucket key for a record.
func recordKey(userID string, ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s#%020d#%s", userID, ts.UnixNano(), id))
}

// userPrefix is the key prefix covering all of one user's records.
func userPrefix(userID string) []byte {
	return []byte(userID + "#")
}

func (l *BoltLedger) Append(ctx context.Context, rec *Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	err := l.db.Update(func(tx *bolt.Tx) error {
		// Stamp inside the transaction: bolt serializes writers, so
		// one user's timestamps are monotonic by processing order.
		rec.ID = uuid.NewString()
		rec.Timestamp = time.Now().UTC()

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}

		b := tx.Bucket([]byte(bucketName))
		return b.Put(recordKey(rec.UserID, rec.Timestamp, rec.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("append transaction for %s: %w", rec.UserID, err)
	}

	log.Info().
		Str("txnId", rec.ID).
		Str("userId", rec.UserID).
		Str("category", rec.Category).
		Str("variant", rec.Variant).
		Int64("amount", rec.Amount).
		Str("status", string(rec.Status)).
		Msg("Transaction appended to ledger")
	return rec.ID, nil
}

func (l *BoltLedger) ListByUser(ctx context.Context, userID string) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := []*Record{}
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		prefix := userPrefix(userID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record %s: %w", k, err)
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", userID, err)
	}

	return records, nil
}
