package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"usdengine/observability/logging"
)

// IdempotencyHeader carries the client-chosen retry key on mutating requests.
const IdempotencyHeader = "Idempotency-Key"

var bucketIdempotency = []byte("idempotency")

// ErrIdempotencyConflict is returned when a key is reused for a different
// request body.
var ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")

// IdempotencyRecord stores the cached response for an idempotency key.
type IdempotencyRecord struct {
	Fingerprint string    `json:"fingerprint"`
	StatusCode  int       `json:"statusCode"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"storedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// IdempotencyStore persists responses in a bbolt file so a retried POST
// replays the first outcome instead of moving funds twice.
type IdempotencyStore struct {
	db     *bolt.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
	// inflight serialises concurrent requests that share a key.
	inflight sync.Map
}

// OpenIdempotencyStore opens (and migrates) the store at path.
func OpenIdempotencyStore(path string, ttl time.Duration, logger *slog.Logger) (*IdempotencyStore, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdempotency)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &IdempotencyStore{db: db, ttl: ttl, now: time.Now, logger: logger}, nil
}

// Close releases the underlying Bolt database handle.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the live record stored under key.
func (s *IdempotencyStore) Lookup(key string) (IdempotencyRecord, bool, error) {
	var record IdempotencyRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketIdempotency).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		found = s.now().Before(record.ExpiresAt)
		return nil
	})
	return record, found, err
}

// Save stores record under key.
func (s *IdempotencyStore) Save(key string, record IdempotencyRecord) error {
	now := s.now()
	record.StoredAt = now
	record.ExpiresAt = now.Add(s.ttl)
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put([]byte(key), encoded)
	})
}

// Prune deletes expired records and reports how many were removed.
func (s *IdempotencyStore) Prune() (int, error) {
	now := s.now()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		var stale [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			var record IdempotencyRecord
			if err := json.Unmarshal(v, &record); err != nil || !now.Before(record.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// Middleware replays cached responses for POST requests carrying an
// Idempotency-Key. Keys are scoped to the caller. Server errors are not
// cached so the client may retry them.
func (s *IdempotencyStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if s == nil || r.Method != http.MethodPost || rawKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body")
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		subject, _ := Subject(r.Context())
		key := subject + "|" + r.URL.Path + "|" + rawKey
		fingerprint := fingerprintOf(r.Method, r.URL.Path, body)

		lock := s.lockFor(key)
		lock.Lock()
		defer func() {
			lock.Unlock()
			s.inflight.Delete(key)
		}()

		record, found, err := s.Lookup(key)
		if err != nil {
			s.logger.Error("idempotency lookup failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "idempotency store unavailable")
			return
		}
		if found {
			if record.Fingerprint != fingerprint {
				s.logger.Warn("idempotency key reused with a different payload",
					logging.MaskField("idempotency_key", rawKey),
					slog.String("route", r.URL.Path))
				writeError(w, http.StatusConflict, ErrIdempotencyConflict.Error())
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(record.StatusCode)
			_, _ = w.Write(record.Body)
			return
		}

		capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(capture, r)
		if capture.status >= http.StatusInternalServerError {
			return
		}
		if err := s.Save(key, IdempotencyRecord{
			Fingerprint: fingerprint,
			StatusCode:  capture.status,
			Body:        capture.body.Bytes(),
		}); err != nil {
			s.logger.Error("idempotency save failed", slog.Any("error", err))
		}
	})
}

func (s *IdempotencyStore) lockFor(key string) *sync.Mutex {
	actual, _ := s.inflight.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func fingerprintOf(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method))
	sum.Write([]byte{0})
	sum.Write([]byte(path))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
