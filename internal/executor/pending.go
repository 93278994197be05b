package executor

import (
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// ticket is one queued opportunity and the channel its submitter waits on.
type ticket struct {
	opp        domain.Opportunity
	enqueuedAt time.Time
	done       chan domain.ExecutionOutcome
}

func newTicket(opp domain.Opportunity, now time.Time) *ticket {
	return &ticket{opp: opp, enqueuedAt: now, done: make(chan domain.ExecutionOutcome, 1)}
}

func (t *ticket) resolve(out domain.ExecutionOutcome) {
	select {
	case t.done <- out:
	default:
	}
}

// pendingQueue holds at most one ticket per candidate symbol and side. A newer
// ticket for the same symbol and side takes over the older one's position, so items leave in
// order of their symbol's first enqueue. It is safe for concurrent use.
type pendingQueue struct {
	mu     sync.Mutex
	order  []string
	items  map[string]*ticket
	closed bool
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{items: make(map[string]*ticket)}
}

func queueKey(opp domain.Opportunity) string {
	key := strings.ToUpper(strings.TrimSpace(opp.Candidate.Symbol))
	if opp.IsSell() {
		return "SELL:" + key
	}
	return key
}

// push enqueues t. It returns the ticket t displaced, if any, and false when
// the queue has been closed.
func (q *pendingQueue) push(t *ticket) (*ticket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false
	}
	key := queueKey(t.opp)
	prev, ok := q.items[key]
	if !ok {
		q.order = append(q.order, key)
	}
	q.items[key] = t
	return prev, true
}

// pop removes and returns the oldest ticket.
func (q *pendingQueue) pop() (*ticket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return nil, false
	}
	key := q.order[0]
	q.order = q.order[1:]
	t := q.items[key]
	delete(q.items, key)
	return t, true
}

// close stops further pushes and returns whatever was still queued.
func (q *pendingQueue) close() []*ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	out := make([]*ticket, 0, len(q.order))
	for _, key := range q.order {
		out = append(out, q.items[key])
	}
	q.order = nil
	q.items = make(map[string]*ticket)
	return out
}

func (q *pendingQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
