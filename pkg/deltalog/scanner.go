package deltalog

import (
	"errors"
	"os"
)

// Entry is one decoded delta log record.
type Entry struct {
	Offset  int64
	Key     string
	Payload []byte
}

// ScanResult is the outcome of scanning one segment file.
type ScanResult struct {
	Path       string
	Sealed     bool
	EntryCount int64
	Entries    []Entry

	// Torn is true when the scan stopped at a corrupt or half-written
	// entry. Entries before it are intact; this mirrors crash recovery,
	// which replays only the valid prefix.
	Torn bool
}

// Scan reads a delta segment and returns its valid entries in write order.
// A torn tail is reported, not treated as an error; a corrupt header is.
func Scan(path string) (*ScanResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioErr(path, "read", err)
	}
	if len(data) < segmentHeaderSize {
		return nil, ioErr(path, "read", ErrCorruptHeader)
	}

	hdr, err := decodeSegmentHeader(data[:segmentHeaderSize])
	if err != nil {
		return nil, ioErr(path, "decode header", err)
	}

	res := &ScanResult{
		Path:       path,
		Sealed:     hdr.Flags&flagSealed != 0,
		EntryCount: hdr.EntryCount,
	}

	_, scanErr := iterateEntries(data, int64(len(data)), path, func(offset int64, entry []byte) bool {
		key, payload, err := DecodeEntry(entry)
		if err != nil {
			return false
		}
		// copy out: entry aliases the file buffer
		p := make([]byte, len(payload))
		copy(p, payload)
		res.Entries = append(res.Entries, Entry{Offset: offset, Key: key, Payload: p})
		return true
	})
	if scanErr != nil {
		if errors.Is(scanErr, ErrInvalidCRC) {
			res.Torn = true
		} else {
			return nil, scanErr
		}
	}

	return res, nil
}
