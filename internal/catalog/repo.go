package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnknownCategory = errors.New("category does not exist")
)

// mapFK turns a foreign key violation on category_id into ErrUnknownCategory.
func mapFK(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return ErrUnknownCategory
	}
	return err
}

// SearchLimit caps search-as-you-type results.
const SearchLimit = 6

type Repo struct{ DB *pgxpool.Pool }

const productColumns = `id, name, description, price, stock, category_id, image_url, created_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.CategoryID, &p.ImageURL, &p.CreatedAt)
	return p, err
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

// Search matches q as a case-insensitive substring of name or description.
func (r *Repo) Search(ctx context.Context, q string, limit int) ([]SearchHit, error) {
	term := "%" + escapeLike(q) + "%"
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, price, image_url FROM products
		WHERE name ILIKE $1 OR description ILIKE $1
		ORDER BY name
		LIMIT $2`, term, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SearchHit{}
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ID, &h.Name, &h.Price, &h.ImageURL); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// LookupForCheckout reads price and stock for exactly the given ids in one
// query. Missing ids are simply absent from the result.
func (r *Repo) LookupForCheckout(ctx context.Context, ids []int64) ([]StockInfo, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, price, stock FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]StockInfo, 0, len(ids))
	for rows.Next() {
		var s StockInfo
		if err := rows.Scan(&s.ID, &s.Name, &s.Price, &s.Stock); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) CreateProduct(ctx context.Context, in NewProduct) (int64, error) {
	var id int64
	err := r.DB.QueryRow(ctx, `
		INSERT INTO products(name, description, price, stock, category_id, image_url)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id`,
		in.Name, in.Description, in.Price, in.Stock, in.CategoryID, in.ImageURL,
	).Scan(&id)
	return id, mapFK(err)
}

func (r *Repo) UpdateProduct(ctx context.Context, id int64, patch ProductPatch) error {
	if patch.Empty() {
		return nil
	}
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.Stock != nil {
		add("stock", *patch.Stock)
	}
	if patch.CategoryID != nil {
		add("category_id", *patch.CategoryID)
	}
	if patch.ImageURL != nil {
		args = append(args, *patch.ImageURL)
		sets = append(sets, fmt.Sprintf("image_url = NULLIF($%d, '')", len(args)))
	}
	args = append(args, id)

	ct, err := r.DB.Exec(ctx,
		`UPDATE products SET `+strings.Join(sets, ", ")+fmt.Sprintf(` WHERE id = $%d`, len(args)),
		args...)
	if err != nil {
		return mapFK(err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) DeleteProduct(ctx context.Context, id int64) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, created_at FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) CreateCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.DB.QueryRow(ctx, `INSERT INTO categories(name) VALUES ($1) RETURNING id`, name).Scan(&id)
	return id, err
}

// DeleteCategory detaches the category from its products before removing it,
// so products survive with category_id = NULL.
func (r *Repo) DeleteCategory(ctx context.Context, id int64) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE products SET category_id = NULL WHERE category_id = $1`, id); err != nil {
		return err
	}
	ct, err := tx.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}
