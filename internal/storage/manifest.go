package storage

import (
	"database/sql"

	codescopeerrors "github.com/codescope/codescope/internal/errors"
)

// Manifest is the subset of index_config that discovery's compatibility
// check inspects before trusting an on-disk index.
type Manifest struct {
	SchemaVersion    int
	ManifestVersion  int
	EmbeddingModel   string
	EmbeddingDims    int
}

// ReadManifest loads index_config into a Manifest. Missing keys read as
// their zero value rather than erroring, since an older index may predate
// a given key.
func (e *Engine) ReadManifest() (Manifest, error) {
	v, err := e.schemaVersion()
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{SchemaVersion: v}

	if s, ok := e.configString("manifest_version"); ok {
		m.ManifestVersion = atoiOr(s, 0)
	}
	if s, ok := e.configString("embedding_model"); ok {
		m.EmbeddingModel = s
	}
	if s, ok := e.configString("embedding_dimensions"); ok {
		m.EmbeddingDims = atoiOr(s, 0)
	}
	return m, nil
}

// WriteEmbeddingManifest records which embedding model/dimensions this
// index's embeddings table was populated with, so a later process can
// refuse to mix incompatible vectors in.
func (e *Engine) WriteEmbeddingManifest(model string, dims int) error {
	if _, err := e.db.Exec(`INSERT OR REPLACE INTO index_config (key, value) VALUES ('embedding_model', ?)`, model); err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "write embedding_model", err)
	}
	if _, err := e.db.Exec(`INSERT OR REPLACE INTO index_config (key, value) VALUES ('embedding_dimensions', ?)`, itoa(dims)); err != nil {
		return codescopeerrors.Wrap(codescopeerrors.KindStorageFailure, "write embedding_dimensions", err)
	}
	return nil
}

func (e *Engine) configString(key string) (string, bool) {
	var v string
	err := e.db.QueryRow(`SELECT value FROM index_config WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows || err != nil {
		return "", false
	}
	return v, true
}

func atoiOr(s string, fallback int) int {
	n := 0
	neg := false
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
