// Package archive keeps a copy of every downloaded shipping document.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxVersions bounds the search for a free name.
const maxVersions = 1000

// Archive stores shipping-document PDFs under a name and returns where the
// copy landed. An existing copy is never replaced: when name is taken the
// document is stored under the next free Versioned name.
type Archive interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// DocumentName builds the file name for one downloaded sub-batch:
// booking-documents-{shopID}-{date}.pdf, with -{n} appended from the second
// sub-batch on.
func DocumentName(shopID int64, at time.Time, batch int) string {
	base := fmt.Sprintf("booking-documents-%d-%s", shopID, at.Format("2006-01-02"))
	if batch > 1 {
		base = fmt.Sprintf("%s-%d", base, batch)
	}
	return base + ".pdf"
}

// Versioned returns name with -r{n} before its extension. Version 1 is name
// itself.
func Versioned(name string, n int) string {
	if n <= 1 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-r%d%s", strings.TrimSuffix(name, ext), n, ext)
}

// Dir writes documents into a local directory.
type Dir struct {
	root string
}

// NewDir creates the directory if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}
	return &Dir{root: root}, nil
}

// Put writes data to a temporary file and links it under the first free
// version of name, so readers never see a partial document.
func (d *Dir) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(d.root, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("archiving %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("archiving %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("archiving %s: %w", name, err)
	}

	for n := 1; n <= maxVersions; n++ {
		path := filepath.Join(d.root, Versioned(name, n))
		err := os.Link(tmp.Name(), path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("archiving %s: %w", name, err)
		}
	}
	return "", fmt.Errorf("archiving %s: no free name after %d versions", name, maxVersions)
}

// cleanName rejects names that would escape the archive root.
func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid archive name %q", name)
	}
	return name, nil
}

var _ Archive = (*Dir)(nil)
