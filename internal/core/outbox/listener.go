package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/prettysheep-coder/bankcore/internal/core/job"
)

// Handler processes one outbox record. Records arrive in sequence order;
// an error stops the batch so the cursor never moves past a failed record.
// Handlers see at-least-once delivery and must be idempotent per sequence.
type Handler func(ctx context.Context, r Record) error

// fetcher is the slice of Outbox the listener needs.
type fetcher interface {
	Fetch(ctx context.Context, topic string, after int64, limit int) ([]Record, error)
}

// ListenerConfig is the stored job config of one listener instance.
type ListenerConfig struct {
	Topic string `json:"topic"`
}

// listenerState is the listener's durable cursor, saved as job execution
// state after every processed batch.
type listenerState struct {
	After int64 `json:"after"`
}

// Listener is a recurring job that follows one outbox topic and dispatches
// each record to a handler. Its cursor lives in the job's execution state,
// so a restart resumes from the last acknowledged batch.
//
// Register one per (job type, topic) via Jobs.AddInitializerAndSpawnUnique:
// spawn-unique guarantees a single instance, which in turn guarantees
// in-order dispatch for the topic.
type Listener struct {
	jobType      job.Type
	outbox       fetcher
	handler      Handler
	clock        clockwork.Clock
	batchSize    int
	pollInterval time.Duration
}

// NewListener creates a listener initializer for a job type.
func NewListener(jobType job.Type, outbox *Outbox, handler Handler, batchSize int, pollInterval time.Duration) *Listener {
	if batchSize <= 0 {
		batchSize = 100
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Listener{
		jobType:      jobType,
		outbox:       outbox,
		handler:      handler,
		clock:        outbox.clock,
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}
}

// JobType implements job.Initializer.
func (l *Listener) JobType() job.Type { return l.jobType }

// Init implements job.Initializer.
func (l *Listener) Init(config json.RawMessage) (job.Runner, error) {
	var cfg ListenerConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("outbox listener %s: unmarshal config: %w", l.jobType, err)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("outbox listener %s: config is missing topic", l.jobType)
	}
	return &listenerRun{listener: l, topic: cfg.Topic}, nil
}

type listenerRun struct {
	listener *Listener
	topic    string
}

// Run drains the topic's backlog batch by batch, advancing the durable
// cursor only after a whole batch is handled, then yields until the next
// poll. A mid-batch failure redelivers from the last saved cursor.
func (r *listenerRun) Run(ctx context.Context, exec *job.Execution) (job.Result, error) {
	l := r.listener

	var state listenerState
	if err := exec.State(&state); err != nil {
		return job.Result{}, err
	}

	for {
		records, err := l.outbox.Fetch(ctx, r.topic, state.After, l.batchSize)
		if err != nil {
			return job.Result{}, err
		}
		if len(records) == 0 {
			break
		}

		for _, rec := range records {
			if err := l.handler(ctx, rec); err != nil {
				return job.Result{}, fmt.Errorf("outbox listener %s: handle %s seq %d: %w",
					l.jobType, r.topic, rec.Sequence, err)
			}
		}

		state.After = records[len(records)-1].Sequence
		if err := exec.SaveState(ctx, state); err != nil {
			return job.Result{}, err
		}
	}

	return job.RescheduleAt(l.clock.Now().UTC().Add(l.pollInterval)), nil
}
