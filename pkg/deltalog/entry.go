package deltalog

import (
	"encoding/binary"
	"fmt"
	"io"
)

const maxKeyLen = 1<<16 - 1

// EncodeEntry frames one record for the delta log: u16 key length, key bytes,
// payload bytes. Keys travel with the payload so merge-on-read can resolve
// last-write-wins per key without consulting anything outside the log.
func EncodeEntry(key string, payload []byte) ([]byte, error) {
	if len(key) > maxKeyLen {
		return nil, fmt.Errorf("record key exceeds %d bytes: %d", maxKeyLen, len(key))
	}
	buf := make([]byte, 2+len(key)+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(key)))
	copy(buf[2:], key)
	copy(buf[2+len(key):], payload)
	return buf, nil
}

// DecodeEntry splits a framed entry back into key and payload. The payload
// slice aliases data.
func DecodeEntry(data []byte) (key string, payload []byte, err error) {
	if len(data) < 2 {
		return "", nil, io.ErrUnexpectedEOF
	}
	keyLen := int(binary.LittleEndian.Uint16(data[0:2]))
	if len(data) < 2+keyLen {
		return "", nil, io.ErrUnexpectedEOF
	}
	return string(data[2 : 2+keyLen]), data[2+keyLen:], nil
}
