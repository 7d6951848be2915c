package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/pders01/triage/internal/backend"
)

var (
	classificationsBucket = []byte("classifications")
	clientsBucket         = []byte("clients")
	metaBucket            = []byte("metadata")
)

var ErrNotFound = errors.New("not found")

const excerptLength = 160

type Store struct {
	db *bolt.DB
}

// NewStore opens (or creates) the bbolt database at dbPath. A non-positive
// timeout falls back to one second.
func NewStore(dbPath string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{classificationsBucket, clientsBucket, metaBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.db.Path()
}

// SaveClassification stores rec, assigning a time-ordered ID and timestamp
// when missing.
func (s *Store) SaveClassification(rec *ClassificationRecord) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating id: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.Excerpt = Excerpt(rec.Excerpt)

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(classificationsBucket).Put([]byte(rec.ID), data)
	})
}

// RecentClassifications returns up to limit records, newest first. A
// non-positive limit returns everything.
func (s *Store) RecentClassifications(limit int) ([]*ClassificationRecord, error) {
	var out []*ClassificationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(classificationsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec ClassificationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			out = append(out, &rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	// IDs are time-ordered, but records saved with explicit IDs may not be.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, err
}

func (s *Store) GetClassification(id string) (*ClassificationRecord, error) {
	var rec ClassificationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(classificationsBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("classification %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) DeleteClassification(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(classificationsBucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("classification %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func clientKey(id int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

// SaveClients upserts clients by ID.
func (s *Store) SaveClients(clients []*backend.Client) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(clientsBucket)
		for _, c := range clients {
			if c == nil {
				continue
			}
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := b.Put(clientKey(c.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetClient(id int) (*backend.Client, error) {
	var c backend.Client
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(clientsBucket).Get(clientKey(id))
		if data == nil {
			return fmt.Errorf("client %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// AllClients returns the cached clients sorted by name, case-insensitively.
func (s *Store) AllClients() ([]*backend.Client, error) {
	var clients []*backend.Client
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(clientsBucket).ForEach(func(_, v []byte) error {
			var c backend.Client
			if err := json.Unmarshal(v, &c); err != nil {
				return nil
			}
			clients = append(clients, &c)
			return nil
		})
	})
	sort.SliceStable(clients, func(i, j int) bool {
		return strings.ToLower(clients[i].Name) < strings.ToLower(clients[j].Name)
	})
	return clients, err
}

func (s *Store) ClientCount() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(clientsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *Store) SetMeta(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put([]byte(key), []byte(value))
	})
}

// GetMeta returns "" and no error for unknown keys.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		value = string(tx.Bucket(metaBucket).Get([]byte(key)))
		return nil
	})
	return value, err
}

func (s *Store) SetLastSync(t time.Time) error {
	return s.SetMeta(MetaLastSync, t.UTC().Format(time.RFC3339))
}

// LastSync returns the zero time when the cache was never synced.
func (s *Store) LastSync() (time.Time, error) {
	raw, err := s.GetMeta(MetaLastSync)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", MetaLastSync, err)
	}
	return t, nil
}

// Excerpt collapses whitespace and shortens s for history listings.
func Excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= excerptLength {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:excerptLength-1])) + "…"
}
