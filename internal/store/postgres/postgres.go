package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates any missing tables. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, name, price, category, stock, unit_size, type, version, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Category, &p.Stock, &p.UnitSize, &p.Type, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	created, err := scanProduct(s.db.QueryRowContext(ctx, `
		INSERT INTO products (id, name, price, category, stock, unit_size, type, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,1,now(),now())
		RETURNING `+productColumns,
		product.ID, product.Name, product.Price, product.Category, product.Stock, product.UnitSize, product.Type))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product, expectedVersion int64) (*domain.Product, error) {
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, price = $3, category = $4, unit_size = $5, type = $6,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND ($7::bigint < 0 OR version = $7::bigint)
		RETURNING `+productColumns,
		product.ID, product.Name, product.Price, product.Category, product.UnitSize, product.Type, expectedVersion))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetProduct(ctx, product.ID); getErr != nil {
			return nil, getErr
		}
		return nil, store.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteProduct refuses while an open order or an unsettled payment still
// names the product, since its stock would have nowhere to go.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		ref, err := json.Marshal([]map[string]string{{"product_id": id}})
		if err != nil {
			return err
		}
		var inUse bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM orders WHERE status IN ($1, $2) AND items @> $5::jsonb
			) OR EXISTS (
				SELECT 1 FROM payment_intents WHERE status IN ($3, $4) AND lines @> $5::jsonb
			)`,
			domain.OrderPending, domain.OrderDispatched,
			domain.PaymentAwaiting, domain.PaymentUnconfirmed, string(ref)).Scan(&inUse)
		if err != nil {
			return err
		}
		if inUse {
			return fmt.Errorf("product %s is on an open order: %w", id, store.ErrConflict)
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
		return err
	})
}

func (s *Store) ApplyStock(ctx context.Context, changes []domain.StockChange, policy domain.StockPolicy) ([]domain.Product, error) {
	var touched []domain.Product
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		touched, err = applyStock(ctx, tx, changes, policy)
		return err
	})
	return touched, err
}

// applyStock locks each product row, checks the policy, then applies the delta.
// Changes arrive sorted by product id so row locks are taken in a stable order.
func applyStock(ctx context.Context, tx *sql.Tx, changes []domain.StockChange, policy domain.StockPolicy) ([]domain.Product, error) {
	touched := make([]domain.Product, 0, len(changes))
	for _, change := range changes {
		var stock int
		err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, change.ProductID).Scan(&stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("product %s: %w", change.ProductID, store.ErrNotFound)
			}
			return nil, err
		}
		if policy == domain.StockPolicyReject && stock+change.Delta < 0 {
			return nil, fmt.Errorf("product %s has %d: %w", change.ProductID, stock, store.ErrInsufficientStock)
		}

		p, err := scanProduct(tx.QueryRowContext(ctx, `
			UPDATE products
			SET stock = stock + $2, version = version + 1, updated_at = now()
			WHERE id = $1
			RETURNING `+productColumns, change.ProductID, change.Delta))
		if err != nil {
			return nil, err
		}
		touched = append(touched, p)
	}
	return touched, nil
}

const orderColumns = `id, staff_id, staff_name, items, subtotal, tax_total, total, status, payment_method, version, created_at, updated_at, settled_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o         domain.Order
		items     []byte
		settledAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.StaffID, &o.StaffName, &items, &o.Subtotal, &o.TaxTotal, &o.Total,
		&o.Status, &o.PaymentMethod, &o.Version, &o.CreatedAt, &o.UpdatedAt, &settledAt)
	if err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s items: %w", o.ID, err)
	}
	if settledAt.Valid {
		at := settledAt.Time
		o.SettledAt = &at
	}
	return o, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrInvalidOrder
	}
	if err := insertOrder(ctx, s.db, order); err != nil {
		return nil, err
	}
	return &order, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOrder(ctx context.Context, db execer, order domain.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return err
	}
	var settledAt any
	if order.SettledAt != nil {
		settledAt = *order.SettledAt
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, order.ID, order.StaffID, order.StaffName, string(items), order.Subtotal, order.TaxTotal, order.Total,
		order.Status, order.PaymentMethod, order.Version, order.CreatedAt, order.UpdatedAt, settledAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (s *Store) ListActiveOrders(ctx context.Context) ([]domain.Order, error) {
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
	`, domain.OrderPending, domain.OrderDispatched)
}

func (s *Store) ListCompletedOrders(ctx context.Context) ([]domain.Order, error) {
	return s.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1
		ORDER BY COALESCE(settled_at, created_at) DESC
	`, domain.OrderPaid)
}

func (s *Store) listOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 32)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) CommitTransition(ctx context.Context, plan domain.TransitionPlan, policy domain.StockPolicy) (*domain.Order, []domain.Product, error) {
	next := plan.Order
	var touched []domain.Product

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var settledAt any
		if next.SettledAt != nil {
			settledAt = *next.SettledAt
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2, version = $3, payment_method = $4, settled_at = $5, updated_at = $6
			WHERE id = $1 AND status = $7 AND version = $8
		`, next.ID, next.Status, next.Version, next.PaymentMethod, settledAt, next.UpdatedAt,
			plan.ExpectedStatus, plan.ExpectedVersion)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return store.ErrNotFound
			}
			return store.ErrConflict
		}

		touched, err = applyStock(ctx, tx, plan.StockChanges, policy)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &next, touched, nil
}

func (s *Store) CreateCompletedOrder(ctx context.Context, order domain.Order, changes []domain.StockChange, policy domain.StockPolicy) (*domain.Order, []domain.Product, error) {
	if len(order.Items) == 0 || order.Status != domain.OrderPaid {
		return nil, nil, store.ErrInvalidOrder
	}

	var touched []domain.Product
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertOrder(ctx, tx, order); err != nil {
			return err
		}
		var err error
		touched, err = applyStock(ctx, tx, changes, policy)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &order, touched, nil
}

func (s *Store) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = xid.New("AUD")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_entries (id, actor_id, actor_name, action, detail, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, entry.ID, entry.ActorID, entry.ActorName, entry.Action, entry.Detail, entry.CreatedAt)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM audit_entries
			WHERE id IN (SELECT id FROM audit_entries ORDER BY created_at DESC OFFSET $1)
		`, domain.AuditRetention)
		return err
	})
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 || limit > domain.AuditRetention {
		limit = domain.AuditRetention
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_name, action, detail, created_at
		FROM audit_entries
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0, limit)
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorName, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) AppendNotification(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		n.ID = xid.New("NTF")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (id, title, message, category, read, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, n.ID, n.Title, n.Message, n.Category, n.Read, n.CreatedAt)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM notifications
			WHERE id IN (SELECT id FROM notifications ORDER BY created_at DESC OFFSET $1)
		`, domain.NotificationRetention)
		return err
	})
}

func (s *Store) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, message, category, read, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT $1
	`, domain.NotificationRetention)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Notification, 0, domain.NotificationRetention)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.Title, &n.Message, &n.Category, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationsRead(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = true WHERE read = false`)
	return err
}

func (s *Store) CreateStaff(ctx context.Context, staff domain.Staff) (*domain.Staff, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff (id, name, role, pin_hash, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, staff.ID, staff.Name, staff.Role, staff.PINHash, staff.Active, staff.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &staff, nil
}

func (s *Store) GetStaff(ctx context.Context, id string) (*domain.Staff, error) {
	var st domain.Staff
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, pin_hash, active, created_at FROM staff WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &st.Role, &st.PINHash, &st.Active, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) ListStaff(ctx context.Context) ([]domain.Staff, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, role, pin_hash, active, created_at FROM staff ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Staff, 0, 16)
	for rows.Next() {
		var st domain.Staff
		if err := rows.Scan(&st.ID, &st.Name, &st.Role, &st.PINHash, &st.Active, &st.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStaff(ctx context.Context, staff domain.Staff) (*domain.Staff, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE staff SET name = $2, role = $3, pin_hash = $4, active = $5 WHERE id = $1
	`, staff.ID, staff.Name, staff.Role, staff.PINHash, staff.Active)
	if err != nil {
		return nil, err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, store.ErrNotFound
	}
	return &staff, nil
}

const intentColumns = `id, handle, purpose, order_id, staff_id, staff_name, lines, amount, phone, status, message, created_at, updated_at`

func scanIntent(row rowScanner) (domain.PaymentIntent, error) {
	var (
		i     domain.PaymentIntent
		lines []byte
	)
	err := row.Scan(&i.ID, &i.Handle, &i.Purpose, &i.OrderID, &i.StaffID, &i.StaffName, &lines,
		&i.Amount, &i.Phone, &i.Status, &i.Message, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if err := json.Unmarshal(lines, &i.Lines); err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("decode intent %s lines: %w", i.ID, err)
	}
	return i, nil
}

func (s *Store) CreatePaymentIntent(ctx context.Context, intent domain.PaymentIntent) (*domain.PaymentIntent, error) {
	lines, err := json.Marshal(intent.Lines)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_intents (`+intentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, intent.ID, intent.Handle, intent.Purpose, intent.OrderID, intent.StaffID, intent.StaffName, string(lines),
		intent.Amount, intent.Phone, intent.Status, intent.Message, intent.CreatedAt, intent.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &intent, nil
}

func (s *Store) GetPaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	return s.getIntent(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
}

func (s *Store) GetPaymentIntentByHandle(ctx context.Context, handle string) (*domain.PaymentIntent, error) {
	return s.getIntent(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE handle = $1`, handle)
}

func (s *Store) getIntent(ctx context.Context, query string, arg string) (*domain.PaymentIntent, error) {
	i, err := scanIntent(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &i, nil
}

func (s *Store) TransitionPaymentIntent(ctx context.Context, id string, from domain.PaymentStatus, to domain.PaymentStatus, message string) (*domain.PaymentIntent, error) {
	i, err := scanIntent(s.db.QueryRowContext(ctx, `
		UPDATE payment_intents
		SET status = $3,
		    message = CASE WHEN $4 = '' THEN message ELSE $4 END,
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+intentColumns, id, from, to, message))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetPaymentIntent(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, store.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *Store) ListPaymentIntents(ctx context.Context, status domain.PaymentStatus, createdBefore time.Time) ([]domain.PaymentIntent, error) {
	if createdBefore.IsZero() {
		createdBefore = time.Now().UTC().Add(time.Hour)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
	`, status, createdBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PaymentIntent, 0, 8)
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// inTx runs fn in a serializable transaction. Serialization failures surface
// as store.ErrConflict so callers treat them like a lost compare-and-swap.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		if isSerializationFailure(err) {
			return store.ErrConflict
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}
