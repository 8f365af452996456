package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"NewsParser/internal/domain"
	"NewsParser/internal/ports"
)

// ErrNotFound is returned by lookups that match no article.
var ErrNotFound = errors.New("article not found")

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultSearchLimit = 10
	articlesTable      = "articles"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

var articleColumns = []string{
	"id", "url", "title", "summary", "content", "topic", "image_url", "published_at", "created_at",
}

// SQLRepository persists articles into sqlite or Postgres.
type SQLRepository struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
	now    func() time.Time
}

var _ ports.ArticleRepository = (*SQLRepository)(nil)

// Open connects to the database, applies pending migrations and returns the repository.
func Open(ctx context.Context, driver, dsn string) (*SQLRepository, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if driver == DriverSQLite {
		// One writer keeps sqlite from returning SQLITE_BUSY under concurrent runs and pollers.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	r := NewSQLRepository(db, driver)
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

// NewSQLRepository wires an already opened sql.DB.
func NewSQLRepository(db *sql.DB, driver string) *SQLRepository {
	var format sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres {
		format = sq.Dollar
	}
	return &SQLRepository{
		db:     db,
		driver: driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(format),
		now:    time.Now,
	}
}

// Close releases the underlying pool.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// Ping checks the store is reachable.
func (r *SQLRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

// ExistsByURL reports whether an article with the URL is stored.
func (r *SQLRepository) ExistsByURL(ctx context.Context, url string) (bool, error) {
	return r.exists(ctx, sq.Eq{"url": url})
}

// ExistsByTitle reports whether an article with exactly this title is stored.
func (r *SQLRepository) ExistsByTitle(ctx context.Context, title string) (bool, error) {
	return r.exists(ctx, sq.Eq{"title": title})
}

func (r *SQLRepository) exists(ctx context.Context, pred sq.Eq) (bool, error) {
	var n int
	err := r.sb.Select("COUNT(1)").From(articlesTable).Where(pred).Limit(1).
		RunWith(r.db).QueryRowContext(ctx).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check article exists: %w", err)
	}
	return n > 0, nil
}

// Insert stores a new article. A URL conflict leaves the stored row as is and reports inserted=false.
func (r *SQLRepository) Insert(ctx context.Context, a domain.Article) (bool, error) {
	created := a.CreatedAt
	if created.IsZero() {
		created = r.now()
	}

	res, err := r.sb.Insert(articlesTable).
		Columns("url", "title", "summary", "content", "topic", "image_url", "published_at", "created_at").
		Values(a.URL, a.Title, a.Summary, a.Content, a.Topic, a.ImageURL, a.PublishedAt.Unix(), created.Unix()).
		Suffix("ON CONFLICT (url) DO NOTHING").
		RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("insert article: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert article rows affected: %w", err)
	}
	return n > 0, nil
}

// Search returns articles matching every set field of q, newest first.
// Topic matches as a substring of the label; each whitespace separated keyword
// must appear in the title, summary or content.
func (r *SQLRepository) Search(ctx context.Context, q domain.ArticleQuery) ([]domain.Article, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	query := r.sb.Select(articleColumns...).From(articlesTable)
	if q.Topic != "" {
		query = query.Where(sq.Expr(`LOWER(topic) LIKE ? ESCAPE '\'`, containsPattern(q.Topic)))
	}
	for _, term := range strings.Fields(q.Keywords) {
		pattern := containsPattern(term)
		query = query.Where(sq.Or{
			sq.Expr(`LOWER(title) LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`LOWER(summary) LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`LOWER(content) LIKE ? ESCAPE '\'`, pattern),
		})
	}
	if !q.Since.IsZero() {
		query = query.Where(sq.GtOrEq{"published_at": q.Since.Unix()})
	}
	query = query.OrderBy("published_at DESC", "id DESC").Limit(uint64(limit))

	rows, err := query.RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}

	articles := make([]domain.Article, 0)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		articles = append(articles, a)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return articles, nil
}

// GetByURL loads one article or returns ErrNotFound.
func (r *SQLRepository) GetByURL(ctx context.Context, url string) (domain.Article, error) {
	row := r.sb.Select(articleColumns...).From(articlesTable).Where(sq.Eq{"url": url}).
		RunWith(r.db).QueryRowContext(ctx)
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, ErrNotFound
	}
	return a, err
}

// Count returns the number of stored articles.
func (r *SQLRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.sb.Select("COUNT(1)").From(articlesTable).RunWith(r.db).QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (domain.Article, error) {
	var (
		a                  domain.Article
		published, created int64
	)
	err := row.Scan(&a.ID, &a.URL, &a.Title, &a.Summary, &a.Content, &a.Topic, &a.ImageURL, &published, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, err
	}
	if err != nil {
		return domain.Article{}, fmt.Errorf("scan article: %w", err)
	}
	a.PublishedAt = time.Unix(published, 0).UTC()
	a.CreatedAt = time.Unix(created, 0).UTC()
	return a, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	dir := "migrations/" + r.driver
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		err := r.sb.Select("COUNT(*)").From("schema_migrations").Where(sq.Eq{"version": f}).
			RunWith(r.db).QueryRowContext(ctx).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(dir + "/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := r.sb.Insert("schema_migrations").Columns("version").Values(f).
			RunWith(tx).ExecContext(ctx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// containsPattern builds a lowercase LIKE pattern matching term literally anywhere.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
}
