package recorder

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"

	"execution-core/internal/audit"
)

var ErrChecksumMismatch = errors.New("audit wal checksum mismatch")

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes audit WAL records sequentially.
type Reader struct {
	r         *bufio.Reader
	opts      ReaderOptions
	headerBuf []byte
	body      []byte
}

// NewReader wraps an io.Reader with audit WAL decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:         bufio.NewReader(r),
		opts:      opts,
		headerBuf: make([]byte, recordHeaderSize),
	}
}

// Next returns the next audit entry. The entry's payload is copied out of
// the read buffer, so it stays valid across calls.
func (r *Reader) Next() (audit.Entry, error) {
	n, err := io.ReadFull(r.r, r.headerBuf)
	if err != nil {
		if err == io.EOF && n == 0 {
			return audit.Entry{}, io.EOF
		}
		return audit.Entry{}, err
	}

	meta, err := decodeFrameHeader(r.headerBuf)
	if err != nil {
		return audit.Entry{}, err
	}
	if r.opts.MaxPayloadSize > 0 && meta.PayloadLen > uint32(r.opts.MaxPayloadSize) {
		return audit.Entry{}, ErrPayloadTooLarge
	}

	bodyLen := int(meta.KindLen) + int(meta.CorrLen) + int(meta.PayloadLen)
	if cap(r.body) < bodyLen {
		r.body = make([]byte, bodyLen)
	}
	r.body = r.body[:bodyLen]
	if bodyLen > 0 {
		if _, err := io.ReadFull(r.r, r.body); err != nil {
			return audit.Entry{}, err
		}
	}

	var checksumBuf [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, checksumBuf[:]); err != nil {
		return audit.Entry{}, err
	}

	if !r.opts.DisableChecksum {
		expected := binary.LittleEndian.Uint32(checksumBuf[:])
		if checksum(r.headerBuf, r.body) != expected {
			return audit.Entry{}, ErrChecksumMismatch
		}
	}

	kindEnd := int(meta.KindLen)
	corrEnd := kindEnd + int(meta.CorrLen)
	entry := audit.Entry{
		Seq:           meta.Seq,
		Kind:          audit.Kind(r.body[:kindEnd]),
		CorrelationID: string(r.body[kindEnd:corrEnd]),
		Timestamp:     meta.Timestamp,
	}
	if meta.PayloadLen > 0 {
		payload := make([]byte, meta.PayloadLen)
		copy(payload, r.body[corrEnd:])
		entry.Payload = json.RawMessage(payload)
	}
	return entry, nil
}
