package index

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/alucardeht/scss-lsp/internal/symbols"
)

// IndexStore caches symbol indexes on disk, keyed by file path and content
// hash, so unchanged stylesheets are not re-parsed on the next start.
type IndexStore struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewIndexStore(dbPath string) (*IndexStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create index dir")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open index")
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping index")
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "exec %q", pragma)
		}
	}

	store := &IndexStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *IndexStore) initSchema() error {
	lines := strings.Split(GetSchema(), "\n")
	var cleanLines []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "--") && trimmed != "" {
			cleanLines = append(cleanLines, line)
		}
	}

	if _, err := s.db.Exec(strings.Join(cleanLines, "\n")); err != nil {
		return errors.Wrap(err, "execute schema")
	}
	if err := s.migrate(); err != nil {
		return err
	}

	_, _ = s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, GetSchemaVersion())
	return nil
}

// migrate brings a cache written by an older schema up to date. Version 1
// imports carry no namespace, so every file is dropped and indexed again.
func (s *IndexStore) migrate() error {
	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return errors.Wrap(err, "read schema version")
	}
	if version == 0 || version >= SchemaVersion {
		return nil
	}

	log.Info("migrating index cache", "from", version, "to", SchemaVersion)
	for _, stmt := range []string{
		`ALTER TABLE imports ADD COLUMN namespace TEXT`,
		`DELETE FROM files`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "migrate schema: %s", stmt)
		}
	}
	return nil
}

func (s *IndexStore) Close() error {
	return s.db.Close()
}

// SaveIndex records file as indexed and replaces its cached declarations and
// imports with those of idx, in one transaction.
func (s *IndexStore) SaveIndex(file *IndexedFile, idx *symbols.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	file.Status = StatusIndexed
	file.ErrorMessage = ""
	fileID, err := upsertFile(tx, file)
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM symbols WHERE file_id = ?", fileID); err != nil {
		return errors.Wrap(err, "clear symbols")
	}
	if _, err := tx.Exec("DELETE FROM imports WHERE file_id = ?", fileID); err != nil {
		return errors.Wrap(err, "clear imports")
	}

	symStmt, err := tx.Prepare(`
		INSERT INTO symbols (file_id, ordinal, name, kind, value, parameters, byte_offset, line, col)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Wrap(err, "prepare symbol insert")
	}
	defer symStmt.Close()

	for _, kind := range symbols.Kinds() {
		for i, sym := range idx.Symbols(kind) {
			var params sql.NullString
			if len(sym.Parameters) > 0 {
				encoded, err := json.Marshal(sym.Parameters)
				if err != nil {
					return errors.Wrapf(err, "encode parameters of %s", sym.Name)
				}
				params = sql.NullString{String: string(encoded), Valid: true}
			}
			_, err := symStmt.Exec(fileID, i, sym.Name, kind.String(), sym.Value, params,
				sym.Offset, sym.Position.Line, sym.Position.Character)
			if err != nil {
				return errors.Wrapf(err, "insert symbol %s", sym.Name)
			}
		}
	}

	impStmt, err := tx.Prepare(`
		INSERT INTO imports (file_id, ordinal, target, namespace, byte_offset, line, col)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Wrap(err, "prepare import insert")
	}
	defer impStmt.Close()

	for i, imp := range idx.Imports {
		if _, err := impStmt.Exec(fileID, i, imp.Target, imp.Namespace, imp.Offset, imp.Position.Line, imp.Position.Character); err != nil {
			return errors.Wrapf(err, "insert import %s", imp.Target)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit index")
	}
	file.ID = fileID
	return nil
}

// MarkFile records a file that was not indexed, dropping any cached symbols.
func (s *IndexStore) MarkFile(file *IndexedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	fileID, err := upsertFile(tx, file)
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM symbols WHERE file_id = ?", fileID); err != nil {
		return errors.Wrap(err, "clear symbols")
	}
	if _, err := tx.Exec("DELETE FROM imports WHERE file_id = ?", fileID); err != nil {
		return errors.Wrap(err, "clear imports")
	}
	return errors.Wrap(tx.Commit(), "commit file status")
}

func upsertFile(tx *sql.Tx, file *IndexedFile) (int64, error) {
	now := time.Now().UTC()
	if file.IndexedAt.IsZero() {
		file.IndexedAt = now
	}
	file.UpdatedAt = now

	_, err := tx.Exec(`
		INSERT INTO files (path, uri, content_hash, encoding, status, error_message, indexed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			uri = excluded.uri,
			content_hash = excluded.content_hash,
			encoding = excluded.encoding,
			status = excluded.status,
			error_message = excluded.error_message,
			indexed_at = excluded.indexed_at,
			updated_at = excluded.updated_at
	`, file.Path, file.URI, file.ContentHash, file.Encoding, file.Status, file.ErrorMessage,
		file.IndexedAt.Unix(), file.UpdatedAt.Unix())
	if err != nil {
		return 0, errors.Wrap(err, "upsert file")
	}

	var id int64
	if err := tx.QueryRow("SELECT id FROM files WHERE path = ?", file.Path).Scan(&id); err != nil {
		return 0, errors.Wrap(err, "get file id")
	}
	return id, nil
}

// GetFile returns the cached record for path, or nil when there is none.
func (s *IndexStore) GetFile(path string) (*IndexedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, path, uri, content_hash, encoding, status, error_message, indexed_at, updated_at
		FROM files WHERE path = ?
	`, path)

	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get file")
	}
	return file, nil
}

// ListFiles returns every cached file with the given status, oldest first.
func (s *IndexStore) ListFiles(status FileStatus) ([]*IndexedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, path, uri, content_hash, encoding, status, error_message, indexed_at, updated_at
		FROM files WHERE status = ? ORDER BY id ASC
	`, status)
	if err != nil {
		return nil, errors.Wrap(err, "list files")
	}
	defer rows.Close()

	var files []*IndexedFile
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan file")
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*IndexedFile, error) {
	file := &IndexedFile{}
	var hash, encoding, errorMsg sql.NullString
	var indexedAt, updatedAt sql.NullInt64

	err := row.Scan(&file.ID, &file.Path, &file.URI, &hash, &encoding,
		&file.Status, &errorMsg, &indexedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	file.ContentHash = hash.String
	file.Encoding = encoding.String
	file.ErrorMessage = errorMsg.String
	if indexedAt.Valid {
		file.IndexedAt = time.Unix(indexedAt.Int64, 0).UTC()
	}
	if updatedAt.Valid {
		file.UpdatedAt = time.Unix(updatedAt.Int64, 0).UTC()
	}
	return file, nil
}

// LoadIndex rebuilds the cached index of path. It returns nil when the path
// has no indexed entry.
func (s *IndexStore) LoadIndex(path string) (*symbols.Index, error) {
	file, err := s.GetFile(path)
	if err != nil || file == nil || file.Status != StatusIndexed {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := &symbols.Index{Document: file.URI, Filepath: file.Path}

	rows, err := s.db.Query(`
		SELECT name, kind, value, parameters, byte_offset, line, col
		FROM symbols WHERE file_id = ? ORDER BY kind, ordinal
	`, file.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load symbols")
	}
	defer rows.Close()

	for rows.Next() {
		var sym symbols.Symbol
		var kind string
		var value, params sql.NullString
		if err := rows.Scan(&sym.Name, &kind, &value, &params, &sym.Offset,
			&sym.Position.Line, &sym.Position.Character); err != nil {
			return nil, errors.Wrap(err, "scan symbol")
		}

		k, ok := symbols.ParseKind(kind)
		if !ok {
			return nil, errors.Newf("unknown symbol kind %q in cache", kind)
		}
		sym.Kind = k
		sym.Value = value.String
		if params.Valid && params.String != "" {
			if err := json.Unmarshal([]byte(params.String), &sym.Parameters); err != nil {
				return nil, errors.Wrapf(err, "decode parameters of %s", sym.Name)
			}
		}

		switch k {
		case symbols.KindVariable:
			idx.Variables = append(idx.Variables, sym)
		case symbols.KindMixin:
			idx.Mixins = append(idx.Mixins, sym)
		case symbols.KindFunction:
			idx.Functions = append(idx.Functions, sym)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate symbols")
	}
	// the store holds a single connection
	rows.Close()

	impRows, err := s.db.Query(`
		SELECT target, COALESCE(namespace, ''), byte_offset, line, col
		FROM imports WHERE file_id = ? ORDER BY ordinal
	`, file.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load imports")
	}
	defer impRows.Close()

	for impRows.Next() {
		var imp symbols.Import
		if err := impRows.Scan(&imp.Target, &imp.Namespace, &imp.Offset, &imp.Position.Line, &imp.Position.Character); err != nil {
			return nil, errors.Wrap(err, "scan import")
		}
		idx.Imports = append(idx.Imports, imp)
	}
	return idx, errors.Wrap(impRows.Err(), "iterate imports")
}

func (s *IndexStore) DeleteFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM files WHERE path = ?", path); err != nil {
		return errors.Wrap(err, "delete file")
	}
	return nil
}

// SearchSymbols returns declarations whose name starts with query, matched
// word by word so "grid-col" finds "$grid-columns".
func (s *IndexStore) SearchSymbols(query string, limit int) ([]*IndexedSymbol, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT f.path, f.uri, s.name, s.kind, s.line, s.col
		FROM symbols_fts fts
		INNER JOIN symbols s ON s.id = fts.rowid
		INNER JOIN files f ON f.id = s.file_id
		WHERE symbols_fts MATCH ?
		ORDER BY f.id, s.kind, s.ordinal
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, errors.Wrap(err, "search symbols")
	}
	defer rows.Close()

	var hits []*IndexedSymbol
	for rows.Next() {
		hit := &IndexedSymbol{}
		var kind string
		if err := rows.Scan(&hit.Path, &hit.URI, &hit.Name, &kind, &hit.Position.Line, &hit.Position.Character); err != nil {
			return nil, errors.Wrap(err, "scan symbol")
		}
		hit.Kind, _ = symbols.ParseKind(kind)
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// ftsQuery turns free text into a prefix phrase query, dropping everything
// the FTS query language would interpret.
func ftsQuery(query string) string {
	var words []string
	for _, w := range strings.FieldsFunc(query, func(r rune) bool {
		return !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= 0x80)
	}) {
		words = append(words, w)
	}
	if len(words) == 0 {
		return ""
	}
	return `"` + strings.Join(words, " ") + `" *`
}

func (s *IndexStore) GetStats() (*IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &IndexStats{}
	var lastIndexed sql.NullInt64

	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'indexed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END), 0),
			MAX(indexed_at)
		FROM files
	`).Scan(&stats.TotalFiles, &stats.IndexedFiles, &stats.FailedFiles, &stats.SkippedFiles, &lastIndexed)
	if err != nil {
		return nil, errors.Wrap(err, "get stats")
	}
	if lastIndexed.Valid {
		stats.LastIndexedAt = time.Unix(lastIndexed.Int64, 0).UTC()
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM symbols").Scan(&stats.TotalSymbols); err != nil {
		return nil, errors.Wrap(err, "get symbol count")
	}

	return stats, nil
}
