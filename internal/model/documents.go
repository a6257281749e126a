package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunglas/httpsfv"
)

// DocumentsHeader names the response header that summarises a document
// download.
const DocumentsHeader = "Booking-Documents"

// DocumentsSummary is carried in the Booking-Documents header as an RFC 8941
// dictionary, e.g. bookings=120, chunks=3, failed=1.
type DocumentsSummary struct {
	Bookings int64
	Chunks   int64
	Failed   int64
}

// FormatDocumentsHeader serialises s.
func FormatDocumentsHeader(s DocumentsSummary) (string, error) {
	dict := httpsfv.NewDictionary()
	dict.Add("bookings", httpsfv.NewItem(s.Bookings))
	dict.Add("chunks", httpsfv.NewItem(s.Chunks))
	dict.Add("failed", httpsfv.NewItem(s.Failed))
	return httpsfv.Marshal(dict)
}

// ParseDocumentsHeader reads a Booking-Documents header. Missing members are
// zero; members that are not integers are an error.
func ParseDocumentsHeader(header string) (DocumentsSummary, error) {
	var s DocumentsSummary
	header = strings.TrimSpace(header)
	if header == "" {
		return s, errors.New("empty Booking-Documents header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return s, fmt.Errorf("invalid Booking-Documents header: %w", err)
	}

	for key, dst := range map[string]*int64{"bookings": &s.Bookings, "chunks": &s.Chunks, "failed": &s.Failed} {
		member, ok := dict.Get(key)
		if !ok {
			continue
		}
		item, ok := member.(httpsfv.Item)
		if !ok {
			return s, fmt.Errorf("%s must be an item", key)
		}
		n, ok := item.Value.(int64)
		if !ok {
			return s, fmt.Errorf("%s must be an integer", key)
		}
		*dst = n
	}
	return s, nil
}
