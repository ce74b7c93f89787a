package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrUnsupportedVersion is returned when a persisted document has an unknown version.
var ErrUnsupportedVersion = errors.New("unsupported trust document version")

// Store is the persistence port of the trust manager.
type Store interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// FileStore persists the trust document as a JSON file written atomically.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore for the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns the default trust store location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "governance", "trust.json")
	}
	return filepath.Join(home, ".governance", "trust.json")
}

// Path returns the file the store reads and writes.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the document. A missing file yields an empty document.
func (s *FileStore) Load(ctx context.Context) (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("trust: read %s: %w", s.path, err)
	}
	return DecodeDocument(data)
}

// Save writes the document to a temp file in the same directory and renames
// it over the target, so readers never observe a partial write.
func (s *FileStore) Save(ctx context.Context, doc *Document) error {
	data, err := EncodeDocument(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("trust: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("trust: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("trust: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("trust: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("trust: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("trust: rename into place: %w", err)
	}
	return nil
}

// EncodeDocument marshals a document, stamping version and update time.
func EncodeDocument(doc *Document) ([]byte, error) {
	if doc == nil {
		doc = NewDocument()
	}
	out := *doc
	out.Version = DocumentVersion
	if out.Updated.IsZero() {
		out.Updated = time.Now().UTC()
	}
	if out.Agents == nil {
		out.Agents = map[string]AgentTrust{}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("trust: marshal document: %w", err)
	}
	return data, nil
}

// DecodeDocument parses and version-checks a persisted document.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("trust: parse document: %w", err)
	}
	if doc.Version != DocumentVersion {
		return nil, fmt.Errorf("trust: %w: %d", ErrUnsupportedVersion, doc.Version)
	}
	if doc.Agents == nil {
		doc.Agents = make(map[string]AgentTrust)
	}
	return &doc, nil
}
