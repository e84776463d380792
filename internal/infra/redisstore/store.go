/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kentakayama/capgate/internal/util"
)

// Options configures the client opened by Connect.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// Connect opens a client and checks that the server answers.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// record is the value stored under every entry key. Redis key expiry
// follows Expires, but reads also compare against the injected clock.
type record struct {
	Data    string `cbor:"1,keyasint,omitempty"`
	Expires int64  `cbor:"2,keyasint"`
}

// sweepScript removes every member of the expiry index scored at or before
// ARGV[1] together with its entry key ARGV[2]..member. The entry keys are not
// declared in KEYS, so the store needs a standalone server, not a cluster.
const sweepScript = `
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, member in ipairs(members) do
  redis.call('DEL', ARGV[2] .. member)
end
if #members > 0 then
  redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
end
return #members
`

var sweepLua = redis.NewScript(sweepScript)

// table is one keyspace of entries with an expiry index, the Redis
// counterpart of a SQL table with an expires column.
type table struct {
	redis  *redis.Client
	clock  util.Clock
	prefix string
	index  string
}

func newTable(client *redis.Client, clock util.Clock, prefix, name string) table {
	base := prefix + ":" + name
	return table{
		redis:  client,
		clock:  clock,
		prefix: base + ":",
		index:  base + ":expiry",
	}
}

func (t table) key(id string) string {
	return t.prefix + id
}

func (t table) put(ctx context.Context, id string, rec record) error {
	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	ttl := time.Duration(rec.Expires-t.clock.NowMillis()) * time.Millisecond
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	_, err = t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, t.key(id), data, ttl)
		pipe.ZAdd(ctx, t.index, redis.Z{Score: float64(rec.Expires), Member: id})
		return nil
	})
	return err
}

// get returns nil when the entry is missing or expired.
func (t table) get(ctx context.Context, id string) (*record, error) {
	data, err := t.redis.Get(ctx, t.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rec record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec.Expires <= t.clock.NowMillis() {
		return nil, nil
	}
	return &rec, nil
}

func (t table) del(ctx context.Context, id string) error {
	_, err := t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, t.key(id))
		pipe.ZRem(ctx, t.index, id)
		return nil
	})
	return err
}

func (t table) sweep(ctx context.Context) (int64, error) {
	return sweepLua.Run(ctx, t.redis, []string{t.index}, t.clock.NowMillis(), t.prefix).Int64()
}
