// Package livestatus publishes dispatcher progress to redis so long runs can
// be watched from another machine. Results never go through redis.
package livestatus

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Jawbreaker1/pabench/internal/job"
	"github.com/Jawbreaker1/pabench/internal/orchestrator"
)

const (
	keyPrefix      = "pabench:progress:"
	defaultTTL     = 24 * time.Hour
	publishTimeout = 2 * time.Second
)

// Status is one progress update of an invocation.
type Status struct {
	Invocation string
	Experiment string
	Counts     orchestrator.Counts
	LastJob    string
	UpdatedAt  time.Time
}

type Publisher interface {
	Publish(ctx context.Context, s Status) error
	Close() error
}

// Key is the redis hash holding the progress of an invocation.
func Key(invocation string) string {
	return keyPrefix + invocation
}

// Fields flattens s into hash fields.
func Fields(s Status) map[string]any {
	return map[string]any{
		"experiment":  s.Experiment,
		"done":        s.Counts.Done,
		"total":       s.Counts.Total,
		"success":     s.Counts.Success,
		"skipped":     s.Counts.Skipped,
		"unsupported": s.Counts.Unsupported,
		"failed":      s.Counts.Failed,
		"last_job":    s.LastJob,
		"updated_at":  strconv.FormatInt(s.UpdatedAt.Unix(), 10),
	}
}

type RedisPublisher struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisPublisher connects to addr and checks the connection.
func NewRedisPublisher(ctx context.Context, addr string) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return &RedisPublisher{rdb: rdb, ttl: defaultTTL}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, s Status) error {
	key := Key(s.Invocation)
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, key, Fields(s))
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

var _ orchestrator.Observer = (*Observer)(nil)

// Observer forwards dispatcher progress to a Publisher. Publish failures are
// logged once and otherwise ignored; they never affect the benchmark.
type Observer struct {
	pub        Publisher
	invocation string
	experiment string
	log        logrus.FieldLogger
	warned     atomic.Bool
	now        func() time.Time
}

func NewObserver(pub Publisher, invocation, experiment string, log logrus.FieldLogger) *Observer {
	return &Observer{
		pub:        pub,
		invocation: invocation,
		experiment: experiment,
		log:        log,
		now:        time.Now,
	}
}

func (o *Observer) DispatchStarted(total int) {
	o.publish(orchestrator.Counts{Total: total}, "")
}

func (o *Observer) JobStarted(job.Job) {}

func (o *Observer) JobFinished(res job.JobResult, _ bool, counts orchestrator.Counts) {
	o.publish(counts, fmt.Sprintf("%s %s", res.Job.Algo.Name(), res.Job.Dataset))
}

func (o *Observer) publish(counts orchestrator.Counts, lastJob string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err := o.pub.Publish(ctx, Status{
		Invocation: o.invocation,
		Experiment: o.experiment,
		Counts:     counts,
		LastJob:    lastJob,
		UpdatedAt:  o.now(),
	})
	if err != nil && o.warned.CompareAndSwap(false, true) {
		o.log.WithError(err).Warn("live status unavailable; continuing without it")
	}
}
