// Package sqlite is the durable review store.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/zhouzirui/foodbot/internal/apperrors"
	"github.com/zhouzirui/foodbot/internal/model/review"
)

//go:embed schema.sql
var schemaSQL string

const selectColumns = `SELECT id, user_id, user_first_name, food_id, food_name, rating, comment, created_at FROM reviews`

// Store implements review.Store on a SQLite file.
type Store struct {
	conn *sql.DB
}

var _ review.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open review database")
	}
	// SQLite allows one writer; a single connection avoids "database is locked".
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to apply review schema")
	}
	return &Store{conn: conn}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Add inserts one record. The rating is checked before touching the table.
func (s *Store) Add(ctx context.Context, r review.Record) error {
	if !review.ValidRating(r.Rating) {
		return apperrors.Validationf("review.add", "rating %d out of range", r.Rating)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	var comment sql.NullString
	if r.Comment != "" {
		comment = sql.NullString{String: r.Comment, Valid: true}
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO reviews (user_id, user_first_name, food_id, food_name, rating, comment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.UserDisplayName, r.ItemKey, r.ItemDisplayName, r.Rating, comment, r.CreatedAt.UTC(),
	)
	if err != nil {
		return apperrors.NewStore("review.add", errors.Wrap(err, "insert review"))
	}
	return nil
}

// ByItem returns an item's reviews, most recent first.
func (s *Store) ByItem(ctx context.Context, itemKey string) ([]review.Record, error) {
	return s.query(ctx, "review.by_item", selectColumns+` WHERE food_id = ? ORDER BY created_at DESC, id DESC`, itemKey)
}

// ByUser returns a user's reviews, most recent first.
func (s *Store) ByUser(ctx context.Context, userID string) ([]review.Record, error) {
	return s.query(ctx, "review.by_user", selectColumns+` WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

// Aggregate returns the rounded average and count; {0, 0} without reviews.
func (s *Store) Aggregate(ctx context.Context, itemKey string) (review.Aggregate, error) {
	var (
		avg   sql.NullFloat64
		count int
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT AVG(rating), COUNT(*) FROM reviews WHERE food_id = ?`, itemKey,
	).Scan(&avg, &count)
	if err != nil {
		return review.Aggregate{}, apperrors.NewStore("review.aggregate", errors.Wrap(err, "aggregate reviews"))
	}
	if count == 0 || !avg.Valid {
		return review.Aggregate{}, nil
	}
	return review.Aggregate{Average: review.Round(avg.Float64), Count: count}, nil
}

func (s *Store) query(ctx context.Context, op, query string, arg any) ([]review.Record, error) {
	rows, err := s.conn.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, apperrors.NewStore(op, errors.Wrap(err, "query reviews"))
	}
	defer rows.Close()

	records := make([]review.Record, 0)
	for rows.Next() {
		var (
			r       review.Record
			comment sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.UserDisplayName, &r.ItemKey, &r.ItemDisplayName, &r.Rating, &comment, &r.CreatedAt); err != nil {
			return nil, apperrors.NewStore(op, errors.Wrap(err, "scan review"))
		}
		r.Comment = comment.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStore(op, errors.Wrap(err, "iterate reviews"))
	}
	return records, nil
}
