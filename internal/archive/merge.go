package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

func init() {
	// Keep pdfcpu from creating a config directory under the user's home.
	api.DisableConfigDir()
}

// MergePDF concatenates documents into one PDF in order. A single document
// is returned as is.
func MergePDF(docs [][]byte) ([]byte, error) {
	switch len(docs) {
	case 0:
		return nil, errors.New("merging documents: nothing to merge")
	case 1:
		return docs[0], nil
	}

	readers := make([]io.ReadSeeker, len(docs))
	for i, d := range docs {
		readers[i] = bytes.NewReader(d)
	}

	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, nil); err != nil {
		return nil, fmt.Errorf("merging %d documents: %w", len(docs), err)
	}
	return out.Bytes(), nil
}
