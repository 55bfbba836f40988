package recorder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 32
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'A', 'U', 'D', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("audit wal invalid magic")
	ErrUnsupportedRecordVer    = errors.New("audit wal unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("audit wal invalid header size")
)

// frameMeta is the decoded fixed-size frame header. The kind and
// correlation id strings follow the header, then the JSON payload, then
// the checksum.
type frameMeta struct {
	Seq        uint64
	Timestamp  int64
	KindLen    uint16
	CorrLen    uint16
	PayloadLen uint32
}

func encodeFrameHeader(dst []byte, seq uint64, timestamp int64, kindLen, corrLen int, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(kindLen))
	binary.LittleEndian.PutUint16(dst[10:12], uint16(corrLen))
	binary.LittleEndian.PutUint32(dst[12:16], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[16:24], seq)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(timestamp))
}

func decodeFrameHeader(src []byte) (frameMeta, error) {
	if len(src) < recordHeaderSize {
		return frameMeta{}, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return frameMeta{}, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return frameMeta{}, ErrUnsupportedRecordVer
	}
	if headerSize := binary.LittleEndian.Uint16(src[6:8]); headerSize != recordHeaderSize {
		return frameMeta{}, ErrInvalidRecordHeaderSize
	}
	return frameMeta{
		KindLen:    binary.LittleEndian.Uint16(src[8:10]),
		CorrLen:    binary.LittleEndian.Uint16(src[10:12]),
		PayloadLen: binary.LittleEndian.Uint32(src[12:16]),
		Seq:        binary.LittleEndian.Uint64(src[16:24]),
		Timestamp:  int64(binary.LittleEndian.Uint64(src[24:32])),
	}, nil
}

func checksum(parts ...[]byte) uint32 {
	var crc uint32
	for _, part := range parts {
		crc = crc32.Update(crc, crcTable, part)
	}
	return crc
}
