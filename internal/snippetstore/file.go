package snippetstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// fileDoc is the on-disk document format: either a bare snippet in wire
// format, or a snippet wrapped with library metadata.
type fileDoc struct {
	ID   string          `json:"id,omitempty"`
	Kind string          `json:"kind,omitempty"`
	Raw  json.RawMessage `json:"snippet,omitempty"`
}

// ImportDir walks dir for *.json snippet documents and upserts them into
// store. Files that fail to parse or validate are logged and skipped so one
// bad library file does not block startup. Returns the number of imported
// definitions.
func ImportDir(ctx context.Context, store Store, dir string) (int, error) {
	imported := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}

		def, err := readFile(path)
		if err != nil {
			slog.Warn("snippetstore: skipping library file", "path", path, "err", err)
			return nil
		}
		if err := store.Upsert(ctx, def); err != nil {
			slog.Warn("snippetstore: skipping invalid definition", "path", path, "err", err)
			return nil
		}
		imported++
		return nil
	})
	if err != nil {
		return imported, fmt.Errorf("snippetstore: import %q: %w", dir, err)
	}
	return imported, nil
}

// readFile parses one snippet document. A document may be a bare snippet or
// a {id, kind, snippet} wrapper; the definition ID falls back to the snippet
// name, then the file stem.
func readFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc fileDoc
	def := &Definition{}
	if err := json.Unmarshal(data, &doc); err == nil && len(doc.Raw) > 0 {
		def.ID = doc.ID
		def.Kind = doc.Kind
		if err := json.Unmarshal(doc.Raw, &def.Snippet); err != nil {
			return nil, fmt.Errorf("snippetstore: parse wrapped snippet: %w", err)
		}
	} else if err := json.Unmarshal(data, &def.Snippet); err != nil {
		return nil, fmt.Errorf("snippetstore: parse snippet: %w", err)
	}

	if def.ID == "" {
		def.ID = def.Snippet.Name
	}
	if def.ID == "" {
		def.ID = strings.TrimSuffix(filepath.Base(path), ".json")
		def.Snippet.Name = def.ID
	}
	return def, nil
}
