package daemon

import "context"

// ackQueue batches message ids awaiting acknowledgment. A failed flush
// returns its ids to the queue, so acknowledgment retries on the next
// tick without ever blocking message intake.
type ackQueue struct {
	pending []string
}

func (q *ackQueue) add(id string) {
	q.pending = append(q.pending, id)
}

func (q *ackQueue) take() []string {
	ids := q.pending
	q.pending = nil
	return ids
}

func (q *ackQueue) restore(ids []string) {
	q.pending = append(ids, q.pending...)
}

// flushAcks sends the pending batch to the relay.
func (d *Daemon) flushAcks(ctx context.Context) {
	ids := d.acks.take()
	if len(ids) == 0 {
		return
	}

	if err := d.cfg.Relay.Ack(ctx, ids); err != nil {
		d.metrics.ackFailures.Inc()
		d.log.Warn("failed to acknowledge messages, will retry", "count", len(ids), "error", err)
		d.acks.restore(ids)
		return
	}
	d.metrics.acked.Add(float64(len(ids)))
}
