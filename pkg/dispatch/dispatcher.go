package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/torrent-sync/pkg/eventlog"
	"github.com/storacha/torrent-sync/pkg/metrics"
	"github.com/storacha/torrent-sync/pkg/model"
	"golang.org/x/sync/semaphore"
)

var log = logging.Logger("dispatch")

var (
	ErrDecode            = errors.New("decoding message")
	ErrDuplicateTransfer = errors.New("transfer already in flight")
	ErrClosed            = errors.New("dispatcher closed")
)

const DefaultWorkTopic = "torrents"

type Runner interface {
	Run(ctx context.Context, req model.TransferRequest) model.Transfer
}

// Dispatcher turns bus messages into orchestration units. Handle never
// blocks on transfer work: each accepted request runs on its own goroutine,
// and at most maxConcurrent of them do work at any one time.
type Dispatcher struct {
	ctx       context.Context
	workTopic string
	audit     eventlog.Appender[model.AuditRecord]
	runner    Runner
	sem       *semaphore.Weighted
	metrics   *metrics.Metrics
	now       func() time.Time

	mu       sync.Mutex
	closed   bool
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates a dispatcher whose units run with ctx. Cancelling ctx does not
// skip credential cleanup, see runner.TransferRunner.
func New(
	ctx context.Context,
	workTopic string,
	audit eventlog.Appender[model.AuditRecord],
	runner Runner,
	maxConcurrent int,
	m *metrics.Metrics,
) *Dispatcher {
	if workTopic == "" {
		workTopic = DefaultWorkTopic
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if audit == nil {
		audit = eventlog.Discard[model.AuditRecord]{}
	}
	return &Dispatcher{
		ctx:       ctx,
		workTopic: workTopic,
		audit:     audit,
		runner:    runner,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		metrics:   m,
		now:       time.Now,
		inflight:  map[string]struct{}{},
	}
}

// Handle processes one bus message. Messages on topics other than the work
// topic are only logged. The returned error is informational: the caller
// should log it and keep receiving.
func (d *Dispatcher) Handle(topic string, payload []byte) error {
	if topic != d.workTopic {
		log.Debugf("topic: %s - payload: %s", topic, payload)
		d.metrics.Message(topic, "ignored")
		return nil
	}

	req, err := Decode(payload)
	if err != nil {
		log.Errorf("topic: %s - dropping message: %s", topic, err)
		d.metrics.Message(topic, "malformed")
		return err
	}
	log.Infof("topic: %s - payload: %s", topic, payload)
	if d.isClosed() {
		log.Warnf("rejecting %s: %s", req.TorrentID, ErrClosed)
		d.metrics.Message(topic, "closed")
		return ErrClosed
	}

	err = d.audit.Append(model.AuditRecord{Time: d.now(), Topic: topic, Payload: payload})
	if err != nil {
		log.Errorf("saving message for %s: %s", req.TorrentID, err)
		d.metrics.Message(topic, "audit_failed")
		return fmt.Errorf("saving message: %w", err)
	}

	if err := d.claim(req.TorrentID); err != nil {
		log.Errorf("rejecting %s: %s", req.TorrentID, err)
		if errors.Is(err, ErrClosed) {
			d.metrics.Message(topic, "closed")
		} else {
			d.metrics.Message(topic, "duplicate")
		}
		return fmt.Errorf("%w: %s", err, req.TorrentID)
	}
	d.metrics.Message(topic, "accepted")

	go d.run(req)
	return nil
}

func (d *Dispatcher) run(req model.TransferRequest) {
	defer d.wg.Done()
	defer d.release(req.TorrentID)

	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		log.Errorf("not starting %s: %s", req.TorrentID, err)
		return
	}
	defer d.sem.Release(1)

	d.runner.Run(d.ctx, req)
}

// Close stops Handle from accepting new requests. Units already accepted keep
// running; call Wait afterwards to drain them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Wait blocks until every unit started by Handle has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// InFlight returns the number of accepted requests that have not finished.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// claim registers id as in flight and adds it to the wait group under the
// same lock that Close takes, so Wait never races with a new unit.
func (d *Dispatcher) claim(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if _, ok := d.inflight[id]; ok {
		return ErrDuplicateTransfer
	}
	d.inflight[id] = struct{}{}
	d.wg.Add(1)
	return nil
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, id)
}

// Decode parses and validates a work topic payload.
func Decode(payload []byte) (model.TransferRequest, error) {
	var req model.TransferRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return model.TransferRequest{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := req.Validate(); err != nil {
		return model.TransferRequest{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return req, nil
}
