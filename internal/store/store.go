package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/surfwatch/internal/metrics"
	"github.com/ppiankov/surfwatch/internal/privacy"
	"github.com/ppiankov/surfwatch/internal/source"
)

// Sort orders accepted by Filter.
const (
	SortNew = "new"
	SortTop = "top"
	SortHot = "hot"
)

const defaultQueryLimit = 50

// ErrNotFound is returned by Get when no post matches.
var ErrNotFound = errors.New("post not found")

// Store persists forum and microblog posts in SQLite.
type Store struct {
	db     *sql.DB
	redact *privacy.Redactor
}

// Filter selects posts for Query and Count.
type Filter struct {
	Source    string
	Community string
	Search    string // substring match on title or content
	Sort      string
	Limit     int
	Offset    int
}

// CommunityStats aggregates stored posts per source and community.
type CommunityStats struct {
	Source     string
	Community  string
	Total      int
	Classified int
	LastSeen   time.Time
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetRedactor installs the redactor applied to title and content before writes.
func (s *Store) SetRedactor(r *privacy.Redactor) {
	s.redact = r
}

// Upsert stores p keyed by (source, id). Engagement counters and content
// from the later write win; classifications are kept. inserted reports
// whether the row is new.
func (s *Store) Upsert(ctx context.Context, p source.Post, fetchedAt time.Time) (inserted bool, err error) {
	if s == nil || s.db == nil {
		return false, errors.New("store is not initialized")
	}
	if strings.TrimSpace(p.Source) == "" {
		return false, errors.New("source is required")
	}
	if strings.TrimSpace(p.ID) == "" {
		return false, errors.New("id is required")
	}
	if fetchedAt.IsZero() {
		return false, errors.New("fetched_at is required")
	}
	defer func() {
		metrics.RecordUpsert(p.Source, inserted, err)
	}()

	title := s.redact.Apply(p.Title)
	content := s.redact.Apply(p.Content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM posts WHERE source = ? AND external_id = ?", p.Source, p.ID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check post: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO posts (
			source, external_id, title, content, url, permalink, created_utc, author, community,
			score, comments, shares, quotes, views, image, popular, relevance, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, external_id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			url = excluded.url,
			permalink = excluded.permalink,
			author = excluded.author,
			community = excluded.community,
			score = excluded.score,
			comments = excluded.comments,
			shares = excluded.shares,
			quotes = excluded.quotes,
			views = excluded.views,
			image = excluded.image,
			popular = excluded.popular,
			relevance = excluded.relevance,
			fetched_at = excluded.fetched_at
	`,
		p.Source, p.ID, title, content, p.URL, p.Permalink, p.CreatedUTC, p.Author, p.Community,
		p.Score, p.Comments, p.Shares, p.Quotes, p.Views, p.Image, p.Popular, p.Relevance,
		formatTime(fetchedAt),
	)
	if err != nil {
		return false, fmt.Errorf("upsert post: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert: %w", err)
	}
	return exists == 0, nil
}

// Get returns one stored post.
func (s *Store) Get(ctx context.Context, src, id string) (source.Post, error) {
	if s == nil || s.db == nil {
		return source.Post{}, errors.New("store is not initialized")
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+postColumns+" FROM posts WHERE source = ? AND external_id = ?", src, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return source.Post{}, ErrNotFound
	}
	return p, err
}

// Query returns posts matching f.
func (s *Store) Query(ctx context.Context, f Filter) ([]source.Post, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}

	where, args := f.where()
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query := "SELECT " + postColumns + " FROM posts" + where + " ORDER BY " + orderBy(f.Sort) + " LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	posts := []source.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

// Count returns the number of posts matching f, ignoring limit and offset.
func (s *Store) Count(ctx context.Context, f Filter) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	where, args := f.where()
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

// Unclassified returns up to limit posts of src that have never been
// classified, oldest first. An empty src matches every source.
func (s *Store) Unclassified(ctx context.Context, src string, limit int) ([]source.Post, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	query := "SELECT " + postColumns + " FROM posts WHERE classified_at IS NULL"
	var args []any
	if src != "" {
		query += " AND source = ?"
		args = append(args, src)
	}
	query += " ORDER BY created_utc ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get unclassified: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var posts []source.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unclassified: %w", err)
	}
	return posts, nil
}

// SaveClassification records labels for a stored post.
func (s *Store) SaveClassification(ctx context.Context, src, id string, labels []string, method string, at time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if at.IsZero() {
		return errors.New("classified_at is required")
	}
	if labels == nil {
		labels = []string{}
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE posts SET classifications = ?, classify_method = ?, classified_at = ?
		WHERE source = ? AND external_id = ?
	`, string(labelsJSON), method, formatTime(at), src, id)
	if err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneOld deletes posts created more than retainDays ago. Returns the
// number of posts removed.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retainDays).Unix()
	res, err := s.db.ExecContext(ctx, "DELETE FROM posts WHERE created_utc < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune old posts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats returns per-community aggregates, ordered by source then community.
func (s *Store) Stats(ctx context.Context) ([]CommunityStats, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, community,
			COUNT(*) AS total,
			SUM(CASE WHEN classified_at IS NOT NULL THEN 1 ELSE 0 END) AS classified,
			MAX(created_utc) AS last_seen
		FROM posts
		GROUP BY source, community
		ORDER BY source, community
	`)
	if err != nil {
		return nil, fmt.Errorf("get community stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []CommunityStats
	for rows.Next() {
		var cs CommunityStats
		var lastSeen int64
		if err := rows.Scan(&cs.Source, &cs.Community, &cs.Total, &cs.Classified, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan community stats: %w", err)
		}
		cs.LastSeen = time.Unix(lastSeen, 0).UTC()
		stats = append(stats, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate community stats: %w", err)
	}
	return stats, nil
}

func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if f.Community != "" {
		conds = append(conds, "community = ?")
		args = append(args, f.Community)
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + escapeLike(q) + "%"
		conds = append(conds, `(title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')`)
		args = append(args, like, like)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderBy(sort string) string {
	switch sort {
	case SortTop:
		return "views DESC, score DESC, created_utc DESC"
	case SortHot:
		return "(score + comments) DESC, created_utc DESC"
	default:
		return "created_utc DESC, id DESC"
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

const postColumns = `external_id, source, title, content, url, permalink, created_utc, author, community,
	score, comments, shares, quotes, views, image, popular, relevance, classifications`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(scanner rowScanner) (source.Post, error) {
	var (
		p         source.Post
		labelsVal sql.NullString
	)
	if err := scanner.Scan(
		&p.ID,
		&p.Source,
		&p.Title,
		&p.Content,
		&p.URL,
		&p.Permalink,
		&p.CreatedUTC,
		&p.Author,
		&p.Community,
		&p.Score,
		&p.Comments,
		&p.Shares,
		&p.Quotes,
		&p.Views,
		&p.Image,
		&p.Popular,
		&p.Relevance,
		&labelsVal,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return source.Post{}, err
		}
		return source.Post{}, fmt.Errorf("scan post: %w", err)
	}

	if labelsVal.Valid && labelsVal.String != "" {
		if err := json.Unmarshal([]byte(labelsVal.String), &p.Classifications); err != nil {
			return source.Post{}, fmt.Errorf("decode classifications: %w", err)
		}
	}
	return p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
