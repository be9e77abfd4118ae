package mapindex

import (
	"database/sql"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	segerrors "github.com/segmentcore/segmentcore/internal/errors"
)

const kvFileName = "postings.sqlite"

// kvBackend is map index backend A (spec §6): a KV column family keyed
// by value|offset. Rather than hand-rolling that key encoding over a
// raw KV store, it uses a SQLite table with a composite primary key,
// which gives the same ordered-scan-by-value property.
type kvBackend struct {
	path string
	db   *sql.DB
}

func openKV(dir string) (*kvBackend, error) {
	path := filepath.Join(dir, kvFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "open map index kv backend", err)
	}
	db.SetMaxOpenConns(1)
	schema := `
CREATE TABLE IF NOT EXISTS forward (offset INTEGER PRIMARY KEY, values_json TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS postings (value TEXT NOT NULL, offset INTEGER NOT NULL, PRIMARY KEY (value, offset));
CREATE INDEX IF NOT EXISTS postings_by_value ON postings(value);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, segerrors.Service(segerrors.CodeStorageIO, "create map index kv schema", err)
	}
	return &kvBackend{path: path, db: db}, nil
}

func (b *kvBackend) Put(offset uint32, values []any) error {
	keys := make([]string, len(values))
	for i, v := range values {
		k, err := encodeValue(v)
		if err != nil {
			return err
		}
		keys[i] = k
	}
	valuesJSON, err := jsoniter.Marshal(values)
	if err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "marshal map index forward record", err)
	}

	tx, err := b.db.Begin()
	if err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "begin map index kv transaction", err)
	}
	if _, err := tx.Exec(`DELETE FROM postings WHERE offset = ?`, offset); err != nil {
		_ = tx.Rollback()
		return segerrors.Service(segerrors.CodeStorageIO, "clear stale postings", err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO forward (offset, values_json) VALUES (?, ?)`, offset, string(valuesJSON)); err != nil {
		_ = tx.Rollback()
		return segerrors.Service(segerrors.CodeStorageIO, "write map index forward record", err)
	}
	for _, k := range keys {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO postings (value, offset) VALUES (?, ?)`, k, offset); err != nil {
			_ = tx.Rollback()
			return segerrors.Service(segerrors.CodeStorageIO, "write map index posting", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "commit map index kv transaction", err)
	}
	return nil
}

func (b *kvBackend) Delete(offset uint32) error {
	tx, err := b.db.Begin()
	if err != nil {
		return segerrors.Service(segerrors.CodeStorageIO, "begin map index kv transaction", err)
	}
	if _, err := tx.Exec(`DELETE FROM postings WHERE offset = ?`, offset); err != nil {
		_ = tx.Rollback()
		return segerrors.Service(segerrors.CodeStorageIO, "delete map index postings", err)
	}
	if _, err := tx.Exec(`DELETE FROM forward WHERE offset = ?`, offset); err != nil {
		_ = tx.Rollback()
		return segerrors.Service(segerrors.CodeStorageIO, "delete map index forward record", err)
	}
	return tx.Commit()
}

func (b *kvBackend) Load() (map[uint32][]any, error) {
	rows, err := b.db.Query(`SELECT offset, values_json FROM forward`)
	if err != nil {
		return nil, segerrors.Service(segerrors.CodeStorageIO, "scan map index kv backend", err)
	}
	defer rows.Close()

	out := make(map[uint32][]any)
	for rows.Next() {
		var offset uint32
		var valuesJSON string
		if err := rows.Scan(&offset, &valuesJSON); err != nil {
			return nil, segerrors.Service(segerrors.CodeStorageIO, "scan map index kv row", err)
		}
		var values []any
		if err := jsoniter.Unmarshal([]byte(valuesJSON), &values); err != nil {
			return nil, segerrors.Service(segerrors.CodeStorageCorrupt, "unmarshal map index forward record", err)
		}
		out[offset] = values
	}
	return out, rows.Err()
}

func (b *kvBackend) Files() []string { return []string{b.path} }

func (b *kvBackend) Flush() error { return nil }

func (b *kvBackend) Close() error { return b.db.Close() }
