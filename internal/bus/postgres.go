package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgxPool is the subset of *pgxpool.Pool the driver uses.
type pgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresConfig configures the Postgres queue-table driver.
type PostgresConfig struct {
	Table         string
	SenderQueue   string
	ReceiverQueue string
	PollInterval  time.Duration
	LockDuration  time.Duration
}

// Postgres implements both queues on one table. Receivers claim rows with
// FOR UPDATE SKIP LOCKED and hold them under a lease until settled.
type Postgres struct {
	cfg    PostgresConfig
	opts   Options
	logger *slog.Logger
	db     pgxPool

	queries pgQueries

	counters
}

type pgQueries struct {
	schema     string
	insert     string
	claim      string
	complete   string
	abandon    string
	deadLetter string
}

func buildQueries(table string) pgQueries {
	t := pgx.Identifier{table}.Sanitize()
	idx := pgx.Identifier{table + "_ready_idx"}.Sanitize()

	return pgQueries{
		schema: fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				id             UUID PRIMARY KEY,
				queue          TEXT NOT NULL,
				body           BYTEA NOT NULL,
				delivery_count INT NOT NULL DEFAULT 0,
				locked_until   TIMESTAMPTZ,
				dead_lettered  BOOLEAN NOT NULL DEFAULT FALSE,
				enqueued_at    TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (queue, enqueued_at) WHERE NOT dead_lettered`, t, idx),
		insert: fmt.Sprintf(`INSERT INTO %s (id, queue, body) VALUES ($1, $2, $3)`, t),
		claim: fmt.Sprintf(`
			UPDATE %[1]s
			SET locked_until = now() + $2::float8 * interval '1 millisecond',
				delivery_count = delivery_count + 1
			WHERE id IN (
				SELECT id FROM %[1]s
				WHERE queue = $1
					AND NOT dead_lettered
					AND (locked_until IS NULL OR locked_until < now())
				ORDER BY enqueued_at
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, body, delivery_count`, t),
		complete:   fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t),
		abandon:    fmt.Sprintf(`UPDATE %s SET locked_until = NULL WHERE id = $1`, t),
		deadLetter: fmt.Sprintf(`UPDATE %s SET locked_until = NULL, dead_lettered = TRUE WHERE id = $1`, t),
	}
}

// NewPostgres creates a driver on an open pool. The pool is closed by Close.
func NewPostgres(db pgxPool, cfg PostgresConfig, opts Options, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 30 * time.Second
	}
	return &Postgres{
		cfg:     cfg,
		opts:    opts.withDefaults(),
		logger:  logger,
		db:      db,
		queries: buildQueries(cfg.Table),
	}
}

// EnsureSchema creates the queue table and its index if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, p.queries.schema); err != nil {
		return fmt.Errorf("create queue table %s: %w", p.cfg.Table, err)
	}
	return nil
}

// Send inserts body into the sender queue.
func (p *Postgres) Send(ctx context.Context, body []byte) error {
	if _, err := p.db.Exec(ctx, p.queries.insert, uuid.New(), p.cfg.SenderQueue, body); err != nil {
		p.sendErrors.Add(1)
		return fmt.Errorf("postgres send: %w", err)
	}
	p.sent.Add(1)
	return nil
}

// Subscribe polls the receiver queue, claiming as many rows as there are
// free handler slots.
func (p *Postgres) Subscribe(ctx context.Context, handler Handler) error {
	d := newDispatcher(p.opts.Concurrency)
	defer d.wait()

	for {
		if !d.waitFree(ctx) {
			return nil
		}

		msgs, err := p.claim(ctx, d.free())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("postgres claim failed", "error", err)
		}

		if len(msgs) == 0 {
			if !sleep(ctx, p.cfg.PollInterval) {
				return nil
			}
			continue
		}

		for _, msg := range msgs {
			if !d.acquire(ctx) {
				p.settle(ctx, msg, false)
				continue
			}
			p.received.Add(1)
			d.run(func() {
				p.settle(ctx, msg, handler(ctx, msg))
			})
		}
	}
}

func (p *Postgres) claim(ctx context.Context, limit int) ([]Message, error) {
	rows, err := p.db.Query(ctx, p.queries.claim, p.cfg.ReceiverQueue, float64(p.cfg.LockDuration.Milliseconds()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			id    uuid.UUID
			body  []byte
			count int
		)
		if err := rows.Scan(&id, &body, &count); err != nil {
			return msgs, err
		}
		msgs = append(msgs, Message{ID: id.String(), Body: body, DeliveryCount: count})
	}
	return msgs, rows.Err()
}

func (p *Postgres) settle(ctx context.Context, msg Message, ok bool) {
	sctx, cancel := settleContext(ctx, p.opts.SettleTimeout)
	defer cancel()

	var (
		query   string
		counter = &p.abandoned
		dead    bool
	)
	switch {
	case ok:
		query, counter = p.queries.complete, &p.completed
	case msg.DeliveryCount >= p.opts.MaxDeliveries:
		query, counter, dead = p.queries.deadLetter, &p.deadLettered, true
	default:
		query = p.queries.abandon
	}

	if _, err := p.db.Exec(sctx, query, msg.ID); err != nil {
		p.settleErrors.Add(1)
		p.logger.Warn("failed to settle message", "id", msg.ID, "ok", ok, "error", err)
		return
	}

	counter.Add(1)
	if dead {
		p.logger.Warn("message dead-lettered", "id", msg.ID, "deliveries", msg.DeliveryCount)
	}
}

// Close closes the pool.
func (p *Postgres) Close(ctx context.Context) error {
	if p.db == nil {
		return errors.New("postgres bus not open")
	}
	p.db.Close()
	p.logger.Info("postgres bus closed")
	return nil
}

// Stats returns current counters.
func (p *Postgres) Stats() Stats {
	return p.snapshot()
}
