package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/wormhole-demo/portal-transfer/internal"
)

const (
	allTransfersSet = "transfers:all"
)

func transferKey(id string) string { return "transfer:" + id }

func stateSet(state internal.Stage) string { return "transfers:" + string(state) }

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

// Redis stores each snapshot as JSON under transfer:<id> and indexes transfer
// IDs in one set per state. A transfer is a member of exactly one state set.
type Redis struct {
	pool *redis.Pool
}

// NewRedis connects lazily to a Redis server at addr (host:port).
func NewRedis(addr string) *Redis {
	return NewRedisWithPool(&redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 4 * time.Minute,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", addr, timeoutDialOptions()...) },
	})
}

func NewRedisWithPool(pool *redis.Pool) *Redis {
	return &Redis{pool: pool}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err
}

func (r *Redis) Record(ctx context.Context, snapshot internal.Snapshot) error {
	if snapshot.TransferID == "" {
		return errors.New("snapshot has no transfer id")
	}
	if snapshot.State == "" {
		return errors.New("snapshot cannot have empty state")
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("cannot marshal snapshot to JSON: %w", err)
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	key := transferKey(snapshot.TransferID)
	prev, err := loadSnapshot(conn, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := conn.Send("MULTI"); err != nil {
		return err
	}
	if err := conn.Send("SET", key, snapshotJSON); err != nil {
		return err
	}
	if prev.State != "" && prev.State != snapshot.State {
		if err := conn.Send("SREM", stateSet(prev.State), snapshot.TransferID); err != nil {
			return err
		}
	}
	if err := conn.Send("SADD", stateSet(snapshot.State), snapshot.TransferID); err != nil {
		return err
	}
	if err := conn.Send("SADD", allTransfersSet, snapshot.TransferID); err != nil {
		return err
	}
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("redis EXEC for %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, transferID string) (internal.Snapshot, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return internal.Snapshot{}, fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	snapshot, err := loadSnapshot(conn, transferKey(transferID))
	if errors.Is(err, ErrNotFound) {
		return internal.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, transferID)
	}
	return snapshot, err
}

func (r *Redis) List(ctx context.Context, state internal.Stage) ([]internal.Snapshot, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	set := allTransfersSet
	if state != "" {
		set = stateSet(state)
	}
	ids, err := redis.Strings(conn.Do("SMEMBERS", set))
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %s: %w", set, err)
	}
	if len(ids) == 0 {
		return []internal.Snapshot{}, nil
	}

	args := make(redis.Args, 0, len(ids))
	for _, id := range ids {
		args = args.Add(transferKey(id))
	}
	values, err := redis.ByteSlices(conn.Do("MGET", args...))
	if err != nil {
		return nil, fmt.Errorf("redis MGET: %w", err)
	}

	out := make([]internal.Snapshot, 0, len(values))
	for i, value := range values {
		if value == nil {
			continue
		}
		var snapshot internal.Snapshot
		if err := json.Unmarshal(value, &snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", ids[i], err)
		}
		out = append(out, snapshot)
	}
	sortSnapshots(out)
	return out, nil
}

func (r *Redis) Close() error {
	return r.pool.Close()
}

func loadSnapshot(conn redis.Conn, key string) (internal.Snapshot, error) {
	value, err := redis.Bytes(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return internal.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return internal.Snapshot{}, fmt.Errorf("redis GET %s: %w", key, err)
	}
	var snapshot internal.Snapshot
	if err := json.Unmarshal(value, &snapshot); err != nil {
		return internal.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return snapshot, nil
}
