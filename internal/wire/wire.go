// Package wire encodes a Batch to the JSON body the ingestion endpoint
// expects, optionally gzip-compressed.
//
// Grounded in the teacher's pkg/formatters/json.go for the
// marshal-and-return-content-type shape, with compression lifted from
// pkg/features/compression.go's use of klauspost/compress/gzip in place
// of the standard library's compress/gzip (the teacher picks klauspost
// for its faster, allocation-lighter implementation; this package keeps
// that choice rather than reverting to stdlib).
package wire

import (
	"bytes"
	"encoding/json"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/nanolog-ingest/ingestsdk/pkg/types"
)

type envelope struct {
	Logs []types.LogRecord `json:"logs"`
}

// EncodeBatch marshals batch to JSON and, if gzipEnabled, compresses it.
// It returns the body and the Content-Encoding header value to send
// alongside it ("" when uncompressed).
func EncodeBatch(batch types.Batch, gzipEnabled bool) (body []byte, contentEncoding string, err error) {
	raw, err := json.Marshal(envelope{Logs: batch.Records})
	if err != nil {
		return nil, "", errors.Wrap(err, "marshal batch")
	}

	if !gzipEnabled {
		return raw, "", nil
	}

	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, "", errors.Wrap(err, "create gzip writer")
	}
	if _, err := gw.Write(raw); err != nil {
		return nil, "", errors.Wrap(err, "gzip write")
	}
	if err := gw.Close(); err != nil {
		return nil, "", errors.Wrap(err, "gzip close")
	}
	return buf.Bytes(), "gzip", nil
}
