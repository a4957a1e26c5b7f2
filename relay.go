package tally

import (
	"context"
	"errors"
	"time"

	"github.com/drpcorg/tally/protocol"
	"github.com/drpcorg/tally/utils"
)

// PayloadRelay ships the payloads of a worker query to a coordinating
// query built from the same request. Run cuts payloads on a timer,
// MergeInto applies them on the other side.
type PayloadRelay struct {
	source   *Coprocessors
	queue    *utils.Queue[protocol.Records]
	interval time.Duration
	log      utils.Logger
}

const relayBatchSize = 1 << 16

func NewPayloadRelay(source *Coprocessors, interval time.Duration, queueLimit int, log utils.Logger) *PayloadRelay {
	if interval <= 0 {
		interval = time.Second
	}
	return &PayloadRelay{
		source:   source,
		queue:    utils.NewQueue[protocol.Records](queueLimit, 4*interval, relayBatchSize),
		interval: interval,
		log:      log,
	}
}

// Flush cuts one payload batch and queues it.
func (r *PayloadRelay) Flush(ctx context.Context) error {
	payloads, err := r.source.CreatePayloads()
	if err != nil {
		return err
	}
	if len(payloads) == 0 {
		return nil
	}
	data := EncodePayloads(payloads)
	PayloadBytes.WithLabelValues("relayed").Observe(float64(len(data)))
	return r.queue.Drain(ctx, protocol.Records{data})
}

// Run flushes every interval until ctx is done, then flushes once more
// and closes the queue.
func (r *PayloadRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.queue.Close()
	for {
		select {
		case <-ctx.Done():
			// the final cut must not be dropped for the cancelled ctx
			if err := r.Flush(context.WithoutCancel(ctx)); err != nil {
				r.log.Error("final payload flush failed", "query", r.source.QueryKey(), "err", err)
				return err
			}
			return nil
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.log.ErrorCtx(ctx, "payload flush failed", "query", r.source.QueryKey(), "err", err)
				return err
			}
		}
	}
}

// MergeInto applies queued payloads to target until the relay closes.
func (r *PayloadRelay) MergeInto(ctx context.Context, target *Coprocessors) error {
	err := protocol.Pump(ctx, r.queue, payloadDrainer(target))
	if errors.Is(err, utils.ErrClosed) {
		return nil
	}
	return err
}

func payloadDrainer(target *Coprocessors) protocol.Drainer {
	return protocol.DrainFunc(func(_ context.Context, recs protocol.Records) error {
		PayloadBytes.WithLabelValues("merged").Observe(float64(recs.TotalLen()))
		for _, rec := range recs {
			payloads, err := DecodePayloads(rec)
			if err != nil {
				return err
			}
			if err = target.ApplyPayloads(payloads); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PayloadRelay) Queued() int {
	return r.queue.Size()
}
