package crokinole

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gonum.org/v1/gonum/mat"
)

// StateStore is the seam to the external key-value exchange carrying sensed
// robot state inbound and commanded torques outbound. Reads of missing keys
// return empty values rather than errors; transport failures propagate, and
// callers are expected to let them terminate the loop since a control loop
// that cannot reach its store is unsafe to keep running.
type StateStore interface {
	ReadString(ctx context.Context, key string) (string, error)
	WriteString(ctx context.Context, key, value string) error

	ReadVector(ctx context.Context, key string) ([]float64, error)
	WriteVector(ctx context.Context, key string, v []float64) error

	ReadMatrix(ctx context.Context, key string) (*mat.Dense, error)

	Close() error
}

// Numeric values cross the store as JSON arrays (nested for matrices), the
// encoding the dynamics simulator and the hardware driver both speak.

func encodeVector(v []float64) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encoding vector")
	}
	return string(data), nil
}

func decodeVector(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	var v []float64
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, errors.Wrapf(err, "decoding vector from %q", s)
	}
	return v, nil
}

func decodeMatrix(s string) (*mat.Dense, error) {
	if s == "" {
		return nil, nil
	}
	var rows [][]float64
	if err := json.Unmarshal([]byte(s), &rows); err != nil {
		return nil, errors.Wrap(err, "decoding matrix")
	}
	if len(rows) == 0 {
		return nil, errors.New("decoding matrix: no rows")
	}
	cols := len(rows[0])
	out := mat.NewDense(len(rows), cols, nil)
	for i, row := range rows {
		if len(row) != cols {
			return nil, errors.Errorf("decoding matrix: row %d has %d entries, want %d", i, len(row), cols)
		}
		out.SetRow(i, row)
	}
	return out, nil
}

// RedisStore talks to the redis instance shared with the simulator or the
// hardware driver.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and verifies the server is reachable.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "connecting to state store at %s", addr)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) ReadString(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "reading key %s", key)
	}
	return val, nil
}

func (s *RedisStore) WriteString(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return errors.Wrapf(err, "writing key %s", key)
	}
	return nil
}

func (s *RedisStore) ReadVector(ctx context.Context, key string) ([]float64, error) {
	raw, err := s.ReadString(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeVector(raw)
}

func (s *RedisStore) WriteVector(ctx context.Context, key string, v []float64) error {
	raw, err := encodeVector(v)
	if err != nil {
		return err
	}
	return s.WriteString(ctx, key, raw)
}

func (s *RedisStore) ReadMatrix(ctx context.Context, key string) (*mat.Dense, error) {
	raw, err := s.ReadString(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeMatrix(raw)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is an in-process StateStore for tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) ReadString(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key], nil
}

func (s *MemoryStore) WriteString(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStore) ReadVector(ctx context.Context, key string) ([]float64, error) {
	raw, err := s.ReadString(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeVector(raw)
}

func (s *MemoryStore) WriteVector(ctx context.Context, key string, v []float64) error {
	raw, err := encodeVector(v)
	if err != nil {
		return err
	}
	return s.WriteString(ctx, key, raw)
}

func (s *MemoryStore) ReadMatrix(ctx context.Context, key string) (*mat.Dense, error) {
	raw, err := s.ReadString(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeMatrix(raw)
}

func (s *MemoryStore) Close() error { return nil }
