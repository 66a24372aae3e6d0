package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/rotisserie/eris"

	"github.com/kijani-supplies/order-desk/internal/model"
)

// pgxPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies
// it in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store on top of pgxpool.
type PostgresStore struct {
	pool pgxPool
}

// NewPostgres connects a pool to the given DSN.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool (used by tests).
func NewPostgresFromPool(pool pgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	customer_name TEXT,
	status        TEXT NOT NULL DEFAULT 'active',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	type            TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS states (
	conversation_id TEXT PRIMARY KEY REFERENCES conversations(id),
	version         INTEGER NOT NULL,
	data            JSONB NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS snapshots (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	message_id      TEXT NOT NULL,
	version         INTEGER NOT NULL,
	data            JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (conversation_id, version)
);

CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	customer_name   TEXT,
	organization    TEXT,
	decision        TEXT NOT NULL,
	data            JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL UNIQUE,
	category TEXT,
	unit     TEXT NOT NULL,
	price    DOUBLE PRECISION NOT NULL DEFAULT 0,
	in_stock BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS customers (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	organization TEXT,
	phone        TEXT,
	tier         TEXT NOT NULL DEFAULT 'standard',
	region       TEXT,
	UNIQUE (name, organization)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
CREATE INDEX IF NOT EXISTS idx_snapshots_conversation ON snapshots(conversation_id, version);
CREATE INDEX IF NOT EXISTS idx_snapshots_message ON snapshots(conversation_id, message_id);
CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_name);
CREATE INDEX IF NOT EXISTS idx_orders_organization ON orders(organization);
CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, customerName string) (*model.Conversation, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, customer_name, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, customerName, string(model.ConversationActive), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert conversation")
	}

	return &model.Conversation{
		ID:           id,
		CustomerName: customerName,
		Status:       model.ConversationActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(customer_name, ''), status, created_at, updated_at FROM conversations WHERE id = $1`, id)

	var c model.Conversation
	err := row.Scan(&c.ID, &c.CustomerName, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "conversation %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get conversation")
	}
	return &c, nil
}

func (s *PostgresStore) UpdateConversationStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update conversation status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "conversation %s", id)
	}
	return nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]model.Conversation, error) {
	query := `SELECT id, COALESCE(customer_name, ''), status, created_at, updated_at FROM conversations`
	var args []any

	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list conversations")
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.CustomerName, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan conversation")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list conversations iterate")
}

func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID string, role model.MessageRole, content, msgType string) (*model.Message, error) {
	id := ulid.Make().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, type, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, conversationID, string(role), content, msgType, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert message for %s", conversationID)
	}

	return &model.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Type:           msgType,
		CreatedAt:      now,
	}, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, COALESCE(type, ''), created_at FROM messages
		 WHERE conversation_id = $1 ORDER BY id`, conversationID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list messages")
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Type, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan message")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list messages iterate")
}

func (s *PostgresStore) GetState(ctx context.Context, conversationID string) (*model.CumulativeState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT data FROM states WHERE conversation_id = $1`, conversationID)

	var data []byte
	err := row.Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get state")
	}

	var state model.CumulativeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal state")
	}
	return &state, nil
}

func (s *PostgresStore) SaveState(ctx context.Context, state *model.CumulativeState, snap *model.Snapshot, priorVersion int) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal state")
	}
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snapshot")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save state")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	var tag pgconn.CommandTag
	if priorVersion == 0 {
		tag, err = tx.Exec(ctx,
			`INSERT INTO states (conversation_id, version, data, updated_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (conversation_id) DO NOTHING`,
			state.ConversationID, state.Version, stateJSON, now,
		)
	} else {
		tag, err = tx.Exec(ctx,
			`UPDATE states SET version = $1, data = $2, updated_at = $3
			 WHERE conversation_id = $4 AND version = $5`,
			state.Version, stateJSON, now, state.ConversationID, priorVersion,
		)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: save state")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrVersionConflict, "conversation %s at version %d", state.ConversationID, priorVersion)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO snapshots (id, conversation_id, message_id, version, data, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.ID, snap.ConversationID, snap.MessageID, snap.Version, snapJSON, snap.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert snapshot")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save state")
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, conversationID string) ([]model.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM snapshots WHERE conversation_id = $1 ORDER BY version`, conversationID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var out []model.Snapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		var snap model.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal snapshot")
		}
		out = append(out, snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

func (s *PostgresStore) LastSnapshot(ctx context.Context, conversationID string) (*model.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT data FROM snapshots WHERE conversation_id = $1 ORDER BY version DESC LIMIT 1`, conversationID)

	var data []byte
	err := row.Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last snapshot")
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal snapshot")
	}
	return &snap, nil
}

func (s *PostgresStore) HasSnapshotForMessage(ctx context.Context, conversationID, messageID string) (bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM snapshots WHERE conversation_id = $1 AND message_id = $2)`,
		conversationID, messageID)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, eris.Wrap(err, "postgres: has snapshot for message")
	}
	return exists, nil
}

func (s *PostgresStore) SaveOrder(ctx context.Context, order *model.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	orderJSON, err := json.Marshal(order)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal order")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO orders (id, conversation_id, customer_name, organization, decision, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET decision = EXCLUDED.decision, data = EXCLUDED.data`,
		order.ID, order.ConversationID, order.CustomerName, order.Organization,
		order.RoutingDecision, orderJSON, order.CreatedAt,
	)
	return eris.Wrap(err, "postgres: save order")
}

func (s *PostgresStore) RecentOrders(ctx context.Context, customerName, organization string, limit int) ([]model.Order, error) {
	query := `SELECT data FROM orders WHERE `
	var pattern string

	switch {
	case organization != "":
		query += `organization ILIKE '%' || $1 || '%'`
		pattern = organization
	case customerName != "":
		query += `customer_name ILIKE '%' || $1 || '%'`
		pattern = customerName
	default:
		return nil, nil
	}

	if limit <= 0 {
		limit = 5
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, pattern, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent orders")
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan order")
		}
		var o model.Order
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal order")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: recent orders iterate")
}

func (s *PostgresStore) CountOrdersByDecision(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT decision, COUNT(*) FROM orders GROUP BY decision`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count orders")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var decision string
		var n int64
		if err := rows.Scan(&decision, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		out[decision] = int(n)
	}
	return out, eris.Wrap(rows.Err(), "postgres: count orders iterate")
}

func (s *PostgresStore) SeedProducts(ctx context.Context, products []model.Product) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin seed products")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, p := range products {
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO products (id, name, category, unit, price, in_stock) VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (name) DO UPDATE SET category = EXCLUDED.category, unit = EXCLUDED.unit,
			 price = EXCLUDED.price, in_stock = EXCLUDED.in_stock`,
			id, p.Name, p.Category, p.Unit, p.Price, p.InStock,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: seed product %s", p.Name)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit seed products")
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, COALESCE(category, ''), unit, price, in_stock FROM products ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Unit, &p.Price, &p.InStock); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list products iterate")
}

func (s *PostgresStore) UpsertCustomer(ctx context.Context, customer model.Customer) error {
	id := customer.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO customers (id, name, organization, phone, tier, region) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name, organization) DO UPDATE SET phone = EXCLUDED.phone,
		 tier = EXCLUDED.tier, region = EXCLUDED.region`,
		id, customer.Name, customer.Organization, customer.Phone, string(customer.Tier), customer.Region,
	)
	return eris.Wrapf(err, "postgres: upsert customer %s", customer.Name)
}

func (s *PostgresStore) FindCustomer(ctx context.Context, name, organization string) (*model.Customer, error) {
	query := `SELECT id, name, COALESCE(organization, ''), COALESCE(phone, ''), tier, COALESCE(region, '')
	 FROM customers WHERE `
	var arg string

	switch {
	case organization != "":
		query += `organization ILIKE '%' || $1 || '%'`
		arg = organization
	case name != "":
		query += `name ILIKE '%' || $1 || '%'`
		arg = name
	default:
		return nil, eris.Wrap(ErrNotFound, "customer lookup without name or organization")
	}
	query += ` LIMIT 1`

	row := s.pool.QueryRow(ctx, query, arg)

	var c model.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Organization, &c.Phone, &c.Tier, &c.Region)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "customer %s %s", name, organization)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find customer")
	}
	return &c, nil
}
