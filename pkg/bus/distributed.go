package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/autonomic-systems/engine/pkg/store"
	"github.com/jackc/pgx/v5"
)

// notifyChannel is the single global NOTIFY channel the distributed plane
// listens on — every instance subscribes once at Start, unlike the
// teacher's per-session channel naming (SessionChannel(id)), since the
// engine's cross-instance bridge has no per-entity routing to narrow.
const notifyChannel = "autonomic_events"

// routingNotification mirrors pkg/store's NOTIFY payload shape.
type routingNotification struct {
	EventID       string `json:"event_id"`
	AggregateType string `json:"aggregate_type"`
	AggregateID   string `json:"aggregate_id"`
}

// EnvelopeFetcher re-fetches a full envelope by event_id. The NOTIFY
// payload only carries routing fields (PostgreSQL caps NOTIFY at 8000
// bytes), so the distributed plane always re-reads the authoritative row
// from the store rather than trusting the wire payload.
type EnvelopeFetcher func(ctx context.Context, eventID string) (eventing.Envelope, error)

// Distributed is the cross-instance bridge: a dedicated pgx connection
// LISTENing on notifyChannel, republishing newly appended rows from other
// instances into this instance's local Bus plane. A per-session listener
// would serialize LISTEN/UNLISTEN commands through a cmdCh because
// sessions come and go; this plane only ever LISTENs on the one fixed
// notifyChannel — there is nothing to serialize, so the receive loop owns
// the connection for its entire lifetime.
type Distributed struct {
	connString string
	fetch      EnvelopeFetcher
	bus        *Bus

	conn   *pgx.Conn
	connMu sync.Mutex

	running atomic.Bool

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewDistributed constructs the distributed plane. Call Start to connect.
func NewDistributed(connString string, fetch EnvelopeFetcher) *Distributed {
	return &Distributed{
		connString: connString,
		fetch:      fetch,
	}
}

// EnableDistributed attaches and starts a Distributed plane on b.
func (b *Bus) EnableDistributed(ctx context.Context, connString string, fetch EnvelopeFetcher) error {
	d := NewDistributed(connString, fetch)
	d.bus = b
	if err := d.Start(ctx); err != nil {
		return err
	}
	b.distributed = d
	return nil
}

// Stop shuts down the distributed plane, if attached.
func (b *Bus) Stop(ctx context.Context) {
	if b.distributed != nil {
		b.distributed.Stop(ctx)
	}
}

// Start establishes the dedicated LISTEN connection and begins receiving.
func (d *Distributed) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, d.connString)
	if err != nil {
		return fmt.Errorf("%w: connect for LISTEN: %v", store.ErrTransient, err)
	}
	d.connMu.Lock()
	d.conn = conn
	d.connMu.Unlock()
	d.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancelLoop = cancel
	d.loopDone = make(chan struct{})

	sanitized := pgx.Identifier{notifyChannel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+sanitized); err != nil {
		cancel()
		return fmt.Errorf("%w: initial LISTEN: %v", store.ErrTransient, err)
	}

	go func() {
		defer close(d.loopDone)
		d.receiveLoop(loopCtx)
	}()

	slog.Info("distributed bus plane started", "channel", notifyChannel)
	return nil
}

// receiveLoop is the sole goroutine that touches the pgx connection,
// avoiding the "conn busy" race between WaitForNotification and Exec.
func (d *Distributed) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d.connMu.Lock()
		conn := d.conn
		d.connMu.Unlock()
		if conn == nil {
			d.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue
			}
			slog.Error("NOTIFY receive error", "error", err)
			d.reconnect(ctx)
			continue
		}

		d.handleNotification(ctx, notification.Payload)
	}
}

func (d *Distributed) handleNotification(ctx context.Context, payload string) {
	var routing routingNotification
	if err := json.Unmarshal([]byte(payload), &routing); err != nil {
		slog.Error("malformed NOTIFY payload", "error", err)
		return
	}
	if d.bus.processed.alreadySeen(routing.EventID) {
		return
	}
	env, err := d.fetch(ctx, routing.EventID)
	if err != nil {
		slog.Error("failed to fetch envelope for NOTIFY routing", "event_id", routing.EventID, "error", err)
		return
	}
	d.bus.PublishRemote(ctx, env)
}

// reconnect re-establishes the LISTEN connection with exponential backoff,
// re-subscribing to notifyChannel once reconnected.
func (d *Distributed) reconnect(ctx context.Context) {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.conn != nil {
		_ = d.conn.Close(ctx)
		d.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, d.connString)
		if err != nil {
			slog.Error("distributed plane reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		sanitized := pgx.Identifier{notifyChannel}.Sanitize()
		if _, err := conn.Exec(ctx, "LISTEN "+sanitized); err != nil {
			slog.Error("re-LISTEN failed after reconnect", "error", err)
			_ = conn.Close(ctx)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		d.conn = conn
		slog.Info("distributed bus plane reconnected")
		return
	}
}

// Stop signals the receive loop to exit, waits for it, then closes the
// connection.
func (d *Distributed) Stop(ctx context.Context) {
	d.running.Store(false)
	if d.cancelLoop != nil {
		d.cancelLoop()
	}
	if d.loopDone != nil {
		<-d.loopDone
	}
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.conn != nil {
		_ = d.conn.Close(ctx)
		d.conn = nil
	}
}
