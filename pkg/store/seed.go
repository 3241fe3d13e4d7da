package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Baseline data written by Seed.
var (
	SeedAccountID = uuid.MustParse("e644218e-8375-4c78-9530-9b6dbe462c81")
	SeedCapsuleID = uuid.MustParse("f97d89b4-39ea-4f0c-9cff-acdd91a9225e")
	SeedAgentID   = uuid.MustParse("43bd8b86-76c0-4efd-94c6-934676d18120")

	seedAccounts = []Account{
		{ID: SeedAccountID, Name: "Test User", Balance: decimal.RequireFromString("50.00")},
	}
	seedProducts = []Product{
		{ID: SeedCapsuleID, Name: "10 Year Birthday Sticker Capsule", Price: decimal.RequireFromString("0.94")},
		{ID: SeedAgentID, Name: "1st Lieutenant Farlow | SWAT", Price: decimal.RequireFromString("8.10")},
	}
)

// schema is applied statement by statement; the extended protocol does
// not accept several statements in one query.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id      uuid PRIMARY KEY,
		name    text NOT NULL,
		balance numeric(12,2) NOT NULL CHECK (balance >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id    uuid PRIMARY KEY,
		name  text NOT NULL,
		price numeric(12,2) NOT NULL CHECK (price >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		account_id uuid NOT NULL REFERENCES accounts (id),
		product_id uuid NOT NULL REFERENCES products (id),
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS purchases_account_id_idx ON purchases (account_id)`,
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Query(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	s.logger.Info().Msg("Schema ready")
	return nil
}

// Seed replaces all data with the baseline account and products and
// returns the resulting rows.
func (s *Store) Seed(ctx context.Context) ([]Account, []Product, error) {
	// Step 1: Clear in foreign key order
	for _, table := range []string{"purchases", "accounts", "products"} {
		if _, err := s.db.Query(ctx, "DELETE FROM "+table); err != nil {
			return nil, nil, fmt.Errorf("clear %s: %w", table, err)
		}
	}

	// Step 2: Insert baseline rows
	for _, a := range seedAccounts {
		if _, err := s.db.Query(ctx,
			`INSERT INTO accounts (id, name, balance) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			a.ID.String(), a.Name, a.Balance,
		); err != nil {
			return nil, nil, fmt.Errorf("insert account %s: %w", a.ID, err)
		}
	}
	for _, p := range seedProducts {
		if _, err := s.db.Query(ctx,
			`INSERT INTO products (id, name, price) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			p.ID.String(), p.Name, p.Price,
		); err != nil {
			return nil, nil, fmt.Errorf("insert product %s: %w", p.ID, err)
		}
	}

	// Step 3: Read back
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, nil, err
	}
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().
		Int("accounts", len(accounts)).
		Int("products", len(products)).
		Msg("Database seeded")

	return accounts, products, nil
}

// ListAccounts returns all accounts ordered by name.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.Query(ctx, `SELECT id::text, name, balance::text FROM accounts ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	accounts := make([]Account, 0, rows.Len())
	for i, row := range rows.Values {
		id, name, amount, err := scanNamedAmount(row)
		if err != nil {
			return nil, fmt.Errorf("list accounts: row %d: %w", i, err)
		}
		accounts = append(accounts, Account{ID: id, Name: name, Balance: amount})
	}
	return accounts, nil
}

// ListProducts returns all products ordered by name.
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.db.Query(ctx, `SELECT id::text, name, price::text FROM products ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	products := make([]Product, 0, rows.Len())
	for i, row := range rows.Values {
		id, name, amount, err := scanNamedAmount(row)
		if err != nil {
			return nil, fmt.Errorf("list products: row %d: %w", i, err)
		}
		products = append(products, Product{ID: id, Name: name, Price: amount})
	}
	return products, nil
}

// scanNamedAmount reads an (id, name, amount) row.
func scanNamedAmount(row []any) (uuid.UUID, string, decimal.Decimal, error) {
	if len(row) != 3 {
		return uuid.Nil, "", decimal.Zero, fmt.Errorf("expected 3 columns, got %d", len(row))
	}
	id, err := asUUID(row[0])
	if err != nil {
		return uuid.Nil, "", decimal.Zero, fmt.Errorf("id: %w", err)
	}
	name, err := asString(row[1])
	if err != nil {
		return uuid.Nil, "", decimal.Zero, fmt.Errorf("name: %w", err)
	}
	amount, err := asDecimal(row[2])
	if err != nil {
		return uuid.Nil, "", decimal.Zero, fmt.Errorf("amount: %w", err)
	}
	return id, name, amount, nil
}
