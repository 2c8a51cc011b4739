package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultBlockTimeout = time.Second

// LPUSH runs first so a failed push leaves the entry in flight.
var deadLetterScript = redis.NewScript(`
redis.call('LPUSH', KEYS[1], ARGV[1])
return redis.call('LREM', KEYS[2], 1, ARGV[2])
`)

var leaseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and cur ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis stores each queue as a list. Producers LPUSH onto the ready list and
// consumers atomically move the oldest entry into a per-consumer processing
// list, so an entry is never lost between pop and ack.
type Redis struct {
	rdb          *redis.Client
	blockTimeout time.Duration
	next         atomic.Uint64
}

type RedisOption func(*Redis)

// WithBlockTimeout bounds how long a single blocking pop waits on one queue
// before Receive moves on to the next queue.
func WithBlockTimeout(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.blockTimeout = d
		}
	}
}

// OpenRedis builds a client from a redis:// URL. It does not contact the
// server; call Ping to check reachability.
func OpenRedis(url string, opts ...RedisOption) (*Redis, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrInvalidURL, err)
	}
	return NewRedis(redis.NewClient(o), opts...), nil
}

// NewRedis wraps an existing client. The broker takes ownership and closes
// it on Close.
func NewRedis(rdb *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{rdb: rdb, blockTimeout: defaultBlockTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Publish(ctx context.Context, msg *Message) error {
	raw, err := msg.encode()
	if err != nil {
		return err
	}
	if err := r.rdb.LPush(ctx, ReadyKey(msg.Queue), raw).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", msg.Queue, err)
	}
	return nil
}

// Receive first sweeps every queue without blocking, in order, then blocks on
// one queue at a time, rotating so no queue is starved while idle.
func (r *Redis) Receive(ctx context.Context, consumer string, queues []string) (*Delivery, error) {
	if len(queues) == 0 {
		return nil, ErrNoQueues
	}
	for {
		for _, q := range queues {
			raw, err := r.rdb.RPopLPush(ctx, ReadyKey(q), ProcessingKey(q, consumer)).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, r.receiveErr(ctx, err)
			}
			d, err := r.accept(ctx, q, consumer, raw)
			if err != nil {
				return nil, err
			}
			if d != nil {
				return d, nil
			}
		}

		q := queues[int(r.next.Add(1)-1)%len(queues)]
		raw, err := r.rdb.BRPopLPush(ctx, ReadyKey(q), ProcessingKey(q, consumer), r.blockTimeout).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		case err != nil:
			return nil, r.receiveErr(ctx, err)
		default:
			d, err := r.accept(ctx, q, consumer, raw)
			if err != nil {
				return nil, err
			}
			if d != nil {
				return d, nil
			}
		}
	}
}

func (r *Redis) receiveErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("receive: %w", err)
}

// accept decodes a popped entry. Malformed entries are moved to the dead list
// and a nil delivery is returned so the caller keeps polling. If the move
// fails the entry stays in flight for Recover and the error is returned.
func (r *Redis) accept(ctx context.Context, queue, consumer, raw string) (*Delivery, error) {
	d := &Delivery{Queue: queue, Consumer: consumer, raw: raw}
	msg, err := decodeMessage(raw)
	if err != nil {
		if dlErr := r.DeadLetter(ctx, d, err.Error()); dlErr != nil {
			return nil, r.receiveErr(ctx, dlErr)
		}
		return nil, nil
	}
	d.Message = msg
	return d, nil
}

func (r *Redis) Ack(ctx context.Context, d *Delivery) error {
	n, err := r.rdb.LRem(ctx, ProcessingKey(d.Queue, d.Consumer), 1, d.raw).Result()
	if err != nil {
		return fmt.Errorf("ack %s: %w", d.Queue, err)
	}
	if n == 0 {
		return ErrUnknownItem
	}
	return nil
}

func (r *Redis) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	rec, err := newDeadLetter(d.raw, reason)
	if err != nil {
		return err
	}
	keys := []string{DeadKey(d.Queue), ProcessingKey(d.Queue, d.Consumer)}
	if err := deadLetterScript.Run(ctx, r.rdb, keys, rec, d.raw).Err(); err != nil {
		return fmt.Errorf("dead-letter %s: %w", d.Queue, err)
	}
	return nil
}

func (r *Redis) Lease(ctx context.Context, consumer, holder string, ttl time.Duration) error {
	ok, err := leaseScript.Run(ctx, r.rdb, []string{LeaseKey(consumer)}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("lease %s: %w", consumer, err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s", ErrConsumerInUse, consumer)
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, consumer, holder string) error {
	if err := releaseScript.Run(ctx, r.rdb, []string{LeaseKey(consumer)}, holder).Err(); err != nil {
		return fmt.Errorf("release %s: %w", consumer, err)
	}
	return nil
}

func (r *Redis) Recover(ctx context.Context, consumer string, queues []string) (int, error) {
	n := 0
	for _, q := range queues {
		for {
			err := r.rdb.RPopLPush(ctx, ProcessingKey(q, consumer), ReadyKey(q)).Err()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return n, fmt.Errorf("recover %s: %w", q, err)
			}
			n++
		}
	}
	return n, nil
}

func (r *Redis) Stats(ctx context.Context, queue string) (QueueStats, error) {
	pipe := r.rdb.Pipeline()
	ready := pipe.LLen(ctx, ReadyKey(queue))
	dead := pipe.LLen(ctx, DeadKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueStats{}, fmt.Errorf("stats %s: %w", queue, err)
	}
	return QueueStats{Queue: queue, Ready: ready.Val(), Dead: dead.Val()}, nil
}

// DeadLetters returns up to limit records, newest first.
func (r *Redis) DeadLetters(ctx context.Context, queue string, limit int64) ([]DeadLetter, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	items, err := r.rdb.LRange(ctx, DeadKey(queue), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters %s: %w", queue, err)
	}
	return decodeDeadLetters(items)
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
