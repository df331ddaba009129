package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"order-bot/internal/config"
	"order-bot/internal/models"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(cfg config.DBConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id         BIGSERIAL PRIMARY KEY,
        phone      TEXT NOT NULL UNIQUE,
        name       TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`CREATE TABLE IF NOT EXISTS orders (
        id              TEXT PRIMARY KEY,
        seq             BIGSERIAL,
        session_id      TEXT NOT NULL,
        order_type      TEXT NOT NULL,
        idempotency_key TEXT NOT NULL UNIQUE,
        items           JSONB NOT NULL,
        amount          NUMERIC(12,2) NOT NULL,
        created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`CREATE TABLE IF NOT EXISTS payments (
        id         BIGSERIAL PRIMARY KEY,
        order_id   TEXT NOT NULL UNIQUE REFERENCES orders(id),
        session_id TEXT NOT NULL,
        method     TEXT NOT NULL,
        amount     NUMERIC(12,2) NOT NULL,
        currency   TEXT NOT NULL,
        payment_id TEXT NOT NULL DEFAULT '',
        status     TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
}

// Migrate creates the tables if they are missing.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// FindUserByPhone returns nil, nil when no user has the phone.
func (db *PostgresDB) FindUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	query := `
        SELECT id, phone, name, created_at, updated_at
        FROM users
        WHERE phone = $1
    `

	var user models.User
	err := db.pool.QueryRow(ctx, query, phone).Scan(
		&user.ID, &user.Phone, &user.Name, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by phone: %w", err)
	}

	return &user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, phone, name string) (*models.User, error) {
	query := `
        INSERT INTO users (phone, name)
        VALUES ($1, $2)
        ON CONFLICT (phone) DO UPDATE
        SET name = $2, updated_at = NOW()
        RETURNING id, created_at, updated_at
    `

	user := models.User{Phone: phone, Name: name}
	err := db.pool.QueryRow(ctx, query, phone, name).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &user, nil
}

// PlaceOrder inserts the order once per idempotency key. A repeated key
// returns the row that is already there, flagged Settled once it has been paid.
func (db *PostgresDB) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	items, err := json.Marshal(req.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order items: %w", err)
	}

	query := `
        INSERT INTO orders (id, session_id, order_type, idempotency_key, items, amount)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (idempotency_key) DO UPDATE
        SET idempotency_key = EXCLUDED.idempotency_key
        RETURNING id, seq, amount::float8, created_at,
            EXISTS (
                SELECT 1 FROM payments p
                WHERE p.order_id = orders.id AND p.status = ANY($7)
            )
    `

	var (
		order models.Order
		seq   int64
	)
	err = db.pool.QueryRow(ctx, query,
		uuid.NewString(), req.SessionID, req.OrderType, req.IdempotencyKey, items, req.Amount,
		[]string{models.PaymentStatusSucceeded, models.PaymentStatusCash},
	).Scan(&order.ID, &seq, &order.Amount, &order.CreatedAt, &order.Settled)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	order.DisplayID = fmt.Sprintf("A-%03d", seq%1000)
	return &order, nil
}

// RecordPayment upserts the ledger row for an order.
func (db *PostgresDB) RecordPayment(ctx context.Context, rec *models.PaymentRecord) error {
	query := `
        INSERT INTO payments (order_id, session_id, method, amount, currency, payment_id, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (order_id) DO UPDATE
        SET method = $3, amount = $4, currency = $5, status = $7, updated_at = NOW()
        RETURNING id, created_at, updated_at
    `

	return db.pool.QueryRow(ctx, query,
		rec.OrderID, rec.SessionID, string(rec.Method), rec.Amount, rec.Currency, rec.PaymentID, rec.Status,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

func (db *PostgresDB) UpdatePaymentStatus(ctx context.Context, orderID, status, paymentID string) error {
	query := `
        UPDATE payments
        SET status = $2, payment_id = COALESCE(NULLIF($3, ''), payment_id), updated_at = NOW()
        WHERE order_id = $1
    `

	_, err := db.pool.Exec(ctx, query, orderID, status, paymentID)
	return err
}
