package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/kijani-supplies/order-desk/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	customer_name TEXT,
	status        TEXT NOT NULL DEFAULT 'active',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	type            TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS states (
	conversation_id TEXT PRIMARY KEY REFERENCES conversations(id),
	version         INTEGER NOT NULL,
	data            TEXT NOT NULL,
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS snapshots (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	message_id      TEXT NOT NULL,
	version         INTEGER NOT NULL,
	data            TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (conversation_id, version)
);

CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	customer_name   TEXT,
	organization    TEXT,
	decision        TEXT NOT NULL,
	data            TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS products (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL UNIQUE,
	category TEXT,
	unit     TEXT NOT NULL,
	price    REAL NOT NULL DEFAULT 0,
	in_stock INTEGER NOT NULL DEFAULT 1
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, customerName string) (*model.Conversation, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, customer_name, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, customerName, string(model.ConversationActive), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert conversation")
	}

	return &model.Conversation{
		ID:           id,
		CustomerName: customerName,
		Status:       model.ConversationActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_name, status, created_at, updated_at FROM conversations WHERE id = ?`, id)

	var c model.Conversation
	var name sql.NullString
	err := row.Scan(&c.ID, &name, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "conversation %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get conversation")
	}
	c.CustomerName = name.String
	return &c, nil
}

func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update conversation status %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "conversation %s", id)
	}
	return nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]model.Conversation, error) {
	query := `SELECT id, customer_name, status, created_at, updated_at FROM conversations WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list conversations")
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		var c model.Conversation
		var name sql.NullString
		if err := rows.Scan(&c.ID, &name, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan conversation")
		}
		c.CustomerName = name.String
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list conversations iterate")
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, role model.MessageRole, content, msgType string) (*model.Message, error) {
	id := ulid.Make().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, type, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, conversationID, string(role), content, msgType, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert message for %s", conversationID)
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

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, type, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list messages")
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var msgType sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &msgType, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan message")
		}
		m.Type = msgType.String
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list messages iterate")
}

func (s *SQLiteStore) GetState(ctx context.Context, conversationID string) (*model.CumulativeState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM states WHERE conversation_id = ?`, conversationID)

	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get state")
	}

	var state model.CumulativeState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal state")
	}
	return &state, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, state *model.CumulativeState, snap *model.Snapshot, priorVersion int) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal state")
	}
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal snapshot")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save state")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var res sql.Result
	if priorVersion == 0 {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO states (conversation_id, version, data, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (conversation_id) DO NOTHING`,
			state.ConversationID, state.Version, string(stateJSON), now,
		)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE states SET version = ?, data = ?, updated_at = ?
			 WHERE conversation_id = ? AND version = ?`,
			state.Version, string(stateJSON), now, state.ConversationID, priorVersion,
		)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: save state")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrVersionConflict, "conversation %s at version %d", state.ConversationID, priorVersion)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, conversation_id, message_id, version, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.ConversationID, snap.MessageID, snap.Version, string(snapJSON), snap.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert snapshot")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save state")
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, conversationID string) ([]model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM snapshots WHERE conversation_id = ? ORDER BY version`, conversationID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close()

	var out []model.Snapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		var snap model.Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal snapshot")
		}
		out = append(out, snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

func (s *SQLiteStore) LastSnapshot(ctx context.Context, conversationID string) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM snapshots WHERE conversation_id = ? ORDER BY version DESC LIMIT 1`, conversationID)

	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last snapshot")
	}

	var snap model.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal snapshot")
	}
	return &snap, nil
}

func (s *SQLiteStore) HasSnapshotForMessage(ctx context.Context, conversationID, messageID string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM snapshots WHERE conversation_id = ? AND message_id = ? LIMIT 1`,
		conversationID, messageID)

	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: has snapshot for message")
	}
	return true, nil
}

func (s *SQLiteStore) SaveOrder(ctx context.Context, order *model.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	orderJSON, err := json.Marshal(order)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal order")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (id, conversation_id, customer_name, organization, decision, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET decision = excluded.decision, data = excluded.data`,
		order.ID, order.ConversationID, order.CustomerName, order.Organization,
		order.RoutingDecision, string(orderJSON), order.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: save order")
}

func (s *SQLiteStore) RecentOrders(ctx context.Context, customerName, organization string, limit int) ([]model.Order, error) {
	query := `SELECT data FROM orders WHERE `
	var args []any

	switch {
	case organization != "":
		query += `LOWER(organization) LIKE '%' || LOWER(?) || '%'`
		args = append(args, organization)
	case customerName != "":
		query += `LOWER(customer_name) LIKE '%' || LOWER(?) || '%'`
		args = append(args, customerName)
	default:
		return nil, nil
	}

	if limit <= 0 {
		limit = 5
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent orders")
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan order")
		}
		var o model.Order
		if err := json.Unmarshal([]byte(data), &o); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal order")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: recent orders iterate")
}

func (s *SQLiteStore) CountOrdersByDecision(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision, COUNT(*) FROM orders GROUP BY decision`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count orders")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var decision string
		var n int
		if err := rows.Scan(&decision, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		out[decision] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: count orders iterate")
}

func (s *SQLiteStore) SeedProducts(ctx context.Context, products []model.Product) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin seed products")
	}
	defer tx.Rollback()

	for _, p := range products {
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO products (id, name, category, unit, price, in_stock) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (name) DO UPDATE SET category = excluded.category, unit = excluded.unit,
			 price = excluded.price, in_stock = excluded.in_stock`,
			id, p.Name, p.Category, p.Unit, p.Price, boolToInt(p.InStock),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: seed product %s", p.Name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit seed products")
}

func (s *SQLiteStore) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, category, unit, price, in_stock FROM products ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products")
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		var p model.Product
		var category sql.NullString
		var inStock int
		if err := rows.Scan(&p.ID, &p.Name, &category, &p.Unit, &p.Price, &inStock); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		p.Category = category.String
		p.InStock = inStock != 0
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list products iterate")
}

func (s *SQLiteStore) UpsertCustomer(ctx context.Context, customer model.Customer) error {
	id := customer.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, organization, phone, tier, region) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name, organization) DO UPDATE SET phone = excluded.phone,
		 tier = excluded.tier, region = excluded.region`,
		id, customer.Name, customer.Organization, customer.Phone, string(customer.Tier), customer.Region,
	)
	return eris.Wrapf(err, "sqlite: upsert customer %s", customer.Name)
}

func (s *SQLiteStore) FindCustomer(ctx context.Context, name, organization string) (*model.Customer, error) {
	query := `SELECT id, name, organization, phone, tier, region FROM customers WHERE `
	var arg string

	switch {
	case organization != "":
		query += `LOWER(organization) LIKE '%' || LOWER(?) || '%'`
		arg = organization
	case name != "":
		query += `LOWER(name) LIKE '%' || LOWER(?) || '%'`
		arg = name
	default:
		return nil, eris.Wrap(ErrNotFound, "customer lookup without name or organization")
	}
	query += ` LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, arg)

	var c model.Customer
	var org, phone, region sql.NullString
	err := row.Scan(&c.ID, &c.Name, &org, &phone, &c.Tier, &region)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "customer %s %s", name, organization)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find customer")
	}
	c.Organization = org.String
	c.Phone = phone.String
	c.Region = region.String
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
