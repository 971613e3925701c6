// Package store persists repositories, users, and change records in
// SQLite. All change writes happen inside single transactions so a change
// row is never observable without its repository counter update.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Picca1e-12/GenTestAI/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRepository registers a new repository row with a generated id.
func (s *Store) CreateRepository(ctx context.Context, name, path string) (model.Repository, error) {
	repo := model.Repository{
		ID:        uuid.New().String(),
		Name:      name,
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, name, path, is_watching, created_at, total_changes)
		VALUES (?, ?, ?, 0, ?, 0)
	`, repo.ID, repo.Name, repo.Path, repo.CreatedAt)
	if err != nil {
		return model.Repository{}, fmt.Errorf("insert repository: %w", err)
	}
	return repo, nil
}

func (s *Store) GetRepository(ctx context.Context, id string) (model.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, path, is_watching, created_at, last_change, total_changes
		FROM repositories WHERE id = ?
	`, id)
	return scanRepository(row)
}

func (s *Store) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, path, is_watching, created_at, last_change, total_changes
		FROM repositories ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query repositories: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}
	return repos, nil
}

func (s *Store) DeleteRepository(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("repository %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) SetWatching(ctx context.Context, id string, watching bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE repositories SET is_watching = ? WHERE id = ?`, watching, id)
	if err != nil {
		return fmt.Errorf("set watching: %w", err)
	}
	return nil
}

// SaveChange persists one change record in a single transaction: the author
// is resolved or created by email, the change row is written, and the owning
// repository's counters advance. Any failure rolls the whole write back.
// It returns the numeric user id assigned to the author.
func (s *Store) SaveChange(ctx context.Context, rec *model.ChangeRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	userID, err := getOrCreateUser(ctx, tx, rec.AuthorEmail, rec.Author)
	if err != nil {
		return 0, err
	}

	var commitHash any
	if rec.CommitHash != "" {
		commitHash = rec.CommitHash
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO changes (
			id, repository_id, user_id, file_path, relative_path, change_type,
			diff, formatted_diff, author, author_email, commit_hash,
			file_extension, lines_added, lines_removed,
			previous_content, current_content, timestamp, sent_to_ai
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, rec.ID, rec.RepositoryID, userID, rec.FilePath, rec.RelativePath, string(rec.Kind),
		rec.Diff, rec.FormattedDiff, rec.Author, rec.AuthorEmail, commitHash,
		rec.Extension, rec.LinesAdded, rec.LinesRemoved,
		rec.PreviousContent, rec.CurrentContent, rec.Timestamp.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert change: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE repositories
		SET total_changes = total_changes + 1, last_change = ?
		WHERE id = ?
	`, rec.Timestamp.UTC(), rec.RepositoryID)
	if err != nil {
		return 0, fmt.Errorf("update repository counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("repository %s: %w", rec.RepositoryID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return userID, nil
}

func getOrCreateUser(ctx context.Context, tx *sql.Tx, email, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, email).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query user: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO users (email, name) VALUES (?, ?)`, email, name)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user id: %w", err)
	}
	return id, nil
}

// UserID resolves the numeric id assigned to an author email.
func (s *Store) UserID(ctx context.Context, email string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query user: %w", err)
	}
	return id, nil
}

func (s *Store) GetChange(ctx context.Context, id string) (model.ChangeRecord, int64, error) {
	row := s.db.QueryRowContext(ctx, changeColumns+` WHERE id = ?`, id)
	return scanChange(row)
}

// ListUnsent returns up to limit still-pending changes, oldest first.
func (s *Store) ListUnsent(ctx context.Context, limit int) ([]model.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, changeColumns+`
		WHERE sent_to_ai = 0 ORDER BY timestamp ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsent changes: %w", err)
	}
	defer rows.Close()

	var recs []model.ChangeRecord
	for rows.Next() {
		rec, _, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unsent changes: %w", err)
	}
	return recs, nil
}

// MarkSent advances a change's delivery state to Sent. The transition is
// one-way; callers never reset it.
func (s *Store) MarkSent(ctx context.Context, changeID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE changes SET sent_to_ai = 1 WHERE id = ?`, changeID)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("change %s: %w", changeID, ErrNotFound)
	}
	return nil
}

// ChangeStats summarizes processed changes, optionally per repository.
type ChangeStats struct {
	Total   int
	Sent    int
	Pending int
	ByKind  map[model.ChangeKind]int
	Last24h int
}

func (s *Store) Stats(ctx context.Context, repositoryID string) (ChangeStats, error) {
	stats := ChangeStats{ByKind: make(map[model.ChangeKind]int)}
	where := ""
	args := []any{}
	if repositoryID != "" {
		where = " WHERE repository_id = ?"
		args = append(args, repositoryID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT change_type, sent_to_ai, timestamp FROM changes`+where, args...)
	if err != nil {
		return stats, fmt.Errorf("query change stats: %w", err)
	}
	defer rows.Close()

	dayAgo := time.Now().UTC().Add(-24 * time.Hour)
	for rows.Next() {
		var kind string
		var sent bool
		var ts time.Time
		if err := rows.Scan(&kind, &sent, &ts); err != nil {
			return stats, fmt.Errorf("scan change stats: %w", err)
		}
		stats.Total++
		if sent {
			stats.Sent++
		} else {
			stats.Pending++
		}
		stats.ByKind[model.ChangeKind(kind)]++
		if ts.After(dayAgo) {
			stats.Last24h++
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate change stats: %w", err)
	}
	return stats, nil
}

const changeColumns = `
	SELECT id, repository_id, user_id, file_path, relative_path, change_type,
	       diff, formatted_diff, author, author_email, commit_hash,
	       file_extension, lines_added, lines_removed,
	       previous_content, current_content, timestamp, sent_to_ai
	FROM changes`

type scanner interface {
	Scan(dest ...any) error
}

func scanChange(row scanner) (model.ChangeRecord, int64, error) {
	var (
		rec    model.ChangeRecord
		userID sql.NullInt64
		hash   sql.NullString
		kind   string
		sent   bool
	)
	err := row.Scan(&rec.ID, &rec.RepositoryID, &userID, &rec.FilePath, &rec.RelativePath, &kind,
		&rec.Diff, &rec.FormattedDiff, &rec.Author, &rec.AuthorEmail, &hash,
		&rec.Extension, &rec.LinesAdded, &rec.LinesRemoved,
		&rec.PreviousContent, &rec.CurrentContent, &rec.Timestamp, &sent)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, 0, ErrNotFound
	}
	if err != nil {
		return rec, 0, fmt.Errorf("scan change: %w", err)
	}
	rec.Kind = model.ChangeKind(kind)
	rec.CommitHash = hash.String
	rec.DeliveryState = model.DeliveryPending
	if sent {
		rec.DeliveryState = model.DeliverySent
	}
	return rec, userID.Int64, nil
}

func scanRepository(row scanner) (model.Repository, error) {
	var (
		repo model.Repository
		last sql.NullTime
	)
	err := row.Scan(&repo.ID, &repo.Name, &repo.Path, &repo.IsWatching,
		&repo.CreatedAt, &last, &repo.TotalChanges)
	if errors.Is(err, sql.ErrNoRows) {
		return repo, ErrNotFound
	}
	if err != nil {
		return repo, fmt.Errorf("scan repository: %w", err)
	}
	if last.Valid {
		repo.LastChange = &last.Time
	}
	return repo, nil
}
