// Package deltalog implements the default log segment writer: an append-only,
// memory-mapped delta segment scoped to one file group, one partition and one
// commit instant. Merge-on-read readers replay these segments against the
// file group's base file, last write per key wins.
package deltalog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edsrzf/mmap-go"
)

var (
	ErrSegmentClosed = errors.New("the segment file is closed")
	ErrSegmentSealed = errors.New("cannot append to sealed segment")
	ErrSegmentFull   = errors.New("append exceeds segment capacity")
	ErrInvalidCRC    = errors.New("invalid crc, the data may be corrupted")
	ErrCorruptHeader = errors.New("corrupt segment header")
)

var (
	crcTable = crc32.MakeTable(crc32.Castagnoli)

	// marker written after every entry to detect torn/incomplete writes.
	// Recovery stops at the first entry whose trailer is missing, so a
	// crash mid-append never resurfaces a half-written record.
	trailerMarker = []byte{0xD1, 0x7A, 0xB1, 0x0C, 0x5E, 0x6D, 0xE7, 0xA5}
)

// HeaderSize is the reserved header prefix at the top of every segment file.
const HeaderSize = segmentHeaderSize

const (
	segmentHeaderSize = 64
	// "MDLG" — mortable delta log.
	segmentMagicNumber   = 0x4D444C47
	segmentHeaderVersion = 1

	// layout: 4 (checksum) + 4 (length) = 8 bytes
	entryHeaderSize   = 8
	entryTrailerSize  = 8
	defaultSegmentCap = 16 * 1024 * 1024
	maxSegmentCap     = 1 * 1024 * 1024 * 1024
	fileModePerm      = 0644

	// entries are aligned to 8 bytes so headers and trailers are unlikely
	// to straddle a page boundary on a crash.
	alignSize int64 = 8
	alignMask int64 = alignSize - 1

	flagActive uint32 = 1 << 0
	flagSealed uint32 = 1 << 1
)

// MsyncOption controls when mmap flushes happen.
type MsyncOption int

const (
	// MsyncNone skips msync after append; Seal and Close still flush.
	MsyncNone MsyncOption = iota

	// MsyncOnAppend calls msync after every append.
	MsyncOnAppend
)

// SegmentFileName returns the on-disk path for a delta segment:
// <dir>/<partitionPath>/<fileGroupID>_<instant>.log
func SegmentFileName(dir, partitionPath, fileGroupID, instant string) string {
	return filepath.Join(dir, partitionPath, fileGroupID+"_"+instant+".log")
}

// Segment is one append-only delta segment backed by a memory-mapped file.
// The file is truncated to its full capacity up front and mapped once;
// appends copy into the mapping at the running write offset.
type Segment struct {
	path string
	fd   *os.File
	data mmap.MMap
	cap  int64

	writeOffset atomic.Int64
	closed      atomic.Bool
	sealed      atomic.Bool

	writeMu    sync.Mutex
	header     []byte
	syncOption MsyncOption
}

// SegmentOption configures an opened segment.
type SegmentOption func(*Segment)

// WithSegmentCapacity sets the fixed capacity of the segment file.
func WithSegmentCapacity(size int64) SegmentOption {
	return func(s *Segment) {
		if size > 0 {
			s.cap = size
		}
	}
}

// WithSyncOption sets the msync behavior for appends.
func WithSyncOption(opt MsyncOption) SegmentOption {
	return func(s *Segment) { s.syncOption = opt }
}

// OpenSegment opens the delta segment at path, creating it if absent. An
// existing unsealed segment is scanned for the true end of valid data before
// appends resume; a sealed segment opens read-only at its recorded offset.
// All faults are wrapped in a *SegmentIOError: they are fatal for the commit.
func OpenSegment(path string, opts ...SegmentOption) (*Segment, error) {
	s := &Segment{
		path:       path,
		cap:        defaultSegmentCap,
		header:     make([]byte, entryHeaderSize),
		syncOption: MsyncNone,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cap > maxSegmentCap {
		return nil, ioErr(path, "open", fmt.Errorf("segment capacity exceeds 1 GiB limit: %d bytes", s.cap))
	}

	isNew, err := isNewSegment(path)
	if err != nil {
		return nil, ioErr(path, "open", err)
	}
	if isNew {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, ioErr(path, "open", err)
		}
	}

	fd, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, fileModePerm)
	if err != nil {
		return nil, ioErr(path, "open", err)
	}
	if err := fd.Truncate(s.cap); err != nil {
		fd.Close()
		return nil, ioErr(path, "truncate", err)
	}
	data, err := mmap.Map(fd, mmap.RDWR, 0)
	if err != nil {
		fd.Close()
		return nil, ioErr(path, "mmap", err)
	}
	s.fd = fd
	s.data = data

	offset := int64(segmentHeaderSize)
	if isNew {
		s.writeInitialHeader()
	} else {
		hdr, err := decodeSegmentHeader(data[:segmentHeaderSize])
		if err != nil {
			s.release()
			return nil, ioErr(path, "decode header", err)
		}
		if hdr.Flags&flagSealed != 0 {
			offset = hdr.WriteOffset
			s.sealed.Store(true)
		} else {
			// the recorded offset may be stale after a crash; scan
			// for the last fully persisted entry instead.
			offset = s.scanForLastOffset()
		}
	}
	s.writeOffset.Store(offset)

	return s, nil
}

// Append writes one framed entry and returns the offset it landed at.
func (s *Segment) Append(entry []byte) (int64, error) {
	if s.closed.Load() {
		return 0, ErrSegmentClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.sealed.Load() {
		return 0, ErrSegmentSealed
	}

	offset := s.writeOffset.Load()
	rawSize := int64(entryHeaderSize) + int64(len(entry)) + entryTrailerSize
	entrySize := alignUp(rawSize)

	if offset+entrySize > s.cap {
		return 0, ErrSegmentFull
	}

	binary.LittleEndian.PutUint32(s.header[4:8], uint32(len(entry)))
	sum := entryChecksum(s.header[4:], entry)
	binary.LittleEndian.PutUint32(s.header[:4], sum)

	copy(s.data[offset:], s.header)
	copy(s.data[offset+entryHeaderSize:], entry)
	copy(s.data[offset+entryHeaderSize+int64(len(entry)):], trailerMarker)
	for i := offset + rawSize; i < offset+entrySize; i++ {
		s.data[i] = 0
	}

	newOffset := offset + entrySize
	s.writeOffset.Store(newOffset)
	s.bumpHeader(newOffset)

	if s.syncOption == MsyncOnAppend {
		if err := s.data.Flush(); err != nil {
			return 0, ioErr(s.path, "msync", err)
		}
	}

	return offset, nil
}

// Seal marks the segment immutable and records the final write offset in the
// header. Further appends fail with ErrSegmentSealed.
func (s *Segment) Seal() error {
	if s.closed.Load() {
		return ErrSegmentClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := uint64(time.Now().UnixNano())
	binary.LittleEndian.PutUint64(s.data[16:24], now)
	binary.LittleEndian.PutUint64(s.data[24:32], uint64(s.writeOffset.Load()))
	flags := binary.LittleEndian.Uint32(s.data[40:44])
	flags &^= flagActive
	flags |= flagSealed
	binary.LittleEndian.PutUint32(s.data[40:44], flags)
	s.stampHeaderCRC()
	s.sealed.Store(true)

	if err := s.data.Flush(); err != nil {
		return ioErr(s.path, "msync", err)
	}
	return nil
}

// Close flushes, unmaps and closes the segment file, then truncates it down
// to the bytes actually written so sealed delta files carry no tail padding.
func (s *Segment) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	finalSize := s.writeOffset.Load()

	if err := s.data.Flush(); err != nil {
		_ = s.data.Unmap()
		_ = s.fd.Close()
		return ioErr(s.path, "flush", err)
	}
	if err := s.data.Unmap(); err != nil {
		_ = s.fd.Close()
		return ioErr(s.path, "unmap", err)
	}
	if s.sealed.Load() {
		if err := s.fd.Truncate(finalSize); err != nil {
			_ = s.fd.Close()
			return ioErr(s.path, "truncate", err)
		}
	}
	if err := s.fd.Sync(); err != nil {
		_ = s.fd.Close()
		return ioErr(s.path, "fsync", err)
	}
	if err := s.fd.Close(); err != nil {
		return ioErr(s.path, "close", err)
	}
	return nil
}

// EntryCount returns the number of entries recorded in the header.
func (s *Segment) EntryCount() int64 {
	if s.closed.Load() {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(s.data[32:40]))
}

// WriteOffset returns the current end of valid data.
func (s *Segment) WriteOffset() int64 { return s.writeOffset.Load() }

// IsSealed reports whether the segment has been sealed.
func (s *Segment) IsSealed() bool { return s.sealed.Load() }

// Path returns the segment's file path.
func (s *Segment) Path() string { return s.path }

func (s *Segment) release() {
	_ = s.data.Unmap()
	_ = s.fd.Close()
}

func (s *Segment) writeInitialHeader() {
	binary.LittleEndian.PutUint32(s.data[0:4], segmentMagicNumber)
	binary.LittleEndian.PutUint32(s.data[4:8], segmentHeaderVersion)
	now := uint64(time.Now().UnixNano())
	binary.LittleEndian.PutUint64(s.data[8:16], now)
	binary.LittleEndian.PutUint64(s.data[16:24], now)
	binary.LittleEndian.PutUint64(s.data[24:32], segmentHeaderSize)
	binary.LittleEndian.PutUint64(s.data[32:40], 0)
	binary.LittleEndian.PutUint32(s.data[40:44], flagActive)
	s.stampHeaderCRC()
}

func (s *Segment) bumpHeader(newOffset int64) {
	binary.LittleEndian.PutUint64(s.data[24:32], uint64(newOffset))
	prev := binary.LittleEndian.Uint64(s.data[32:40])
	binary.LittleEndian.PutUint64(s.data[32:40], prev+1)
	binary.LittleEndian.PutUint64(s.data[16:24], uint64(time.Now().UnixNano()))
	s.stampHeaderCRC()
}

func (s *Segment) stampHeaderCRC() {
	crc := crc32.Checksum(s.data[0:56], crcTable)
	binary.LittleEndian.PutUint32(s.data[56:60], crc)
}

// scanForLastOffset walks entries from the top of the segment and returns the
// offset one past the last fully persisted entry.
func (s *Segment) scanForLastOffset() int64 {
	offset, _ := iterateEntries(s.data, s.cap, s.path, nil)
	return offset
}

// segmentHeader is the decoded 64-byte header at the top of a segment file.
type segmentHeader struct {
	Magic          uint32
	Version        uint32
	CreatedAt      int64
	LastModifiedAt int64
	WriteOffset    int64
	EntryCount     int64
	Flags          uint32
}

func decodeSegmentHeader(buf []byte) (*segmentHeader, error) {
	if len(buf) < segmentHeaderSize {
		return nil, ErrCorruptHeader
	}

	saved := binary.LittleEndian.Uint32(buf[56:60])
	computed := crc32.Checksum(buf[0:56], crcTable)
	if saved != computed {
		return nil, fmt.Errorf("%w: header CRC mismatch: expected %08x, got %08x",
			ErrCorruptHeader, saved, computed)
	}

	hdr := &segmentHeader{
		Magic:          binary.LittleEndian.Uint32(buf[0:4]),
		Version:        binary.LittleEndian.Uint32(buf[4:8]),
		CreatedAt:      int64(binary.LittleEndian.Uint64(buf[8:16])),
		LastModifiedAt: int64(binary.LittleEndian.Uint64(buf[16:24])),
		WriteOffset:    int64(binary.LittleEndian.Uint64(buf[24:32])),
		EntryCount:     int64(binary.LittleEndian.Uint64(buf[32:40])),
		Flags:          binary.LittleEndian.Uint32(buf[40:44]),
	}
	if hdr.Magic != segmentMagicNumber {
		return nil, fmt.Errorf("%w: bad magic %08x", ErrCorruptHeader, hdr.Magic)
	}
	return hdr, nil
}

// iterateEntries visits every valid entry in data and stops at the first torn
// or corrupt one. Returns the end offset of valid data.
func iterateEntries(data []byte, size int64, path string, visit func(offset int64, entry []byte) bool) (int64, error) {
	var offset int64 = segmentHeaderSize

	for offset+entryHeaderSize <= size {
		offset = alignUp(offset)
		if offset+entryHeaderSize > size {
			break
		}

		header := data[offset : offset+entryHeaderSize]
		length := binary.LittleEndian.Uint32(header[4:8])
		entrySize := alignUp(int64(entryHeaderSize) + int64(length) + entryTrailerSize)
		if offset+entrySize > size {
			break
		}

		savedSum := binary.LittleEndian.Uint32(header[:4])
		if savedSum == 0 && length == 0 {
			// zeroed tail: end of data
			break
		}

		payload := data[offset+entryHeaderSize : offset+entryHeaderSize+int64(length)]
		trailer := data[offset+entryHeaderSize+int64(length) : offset+entryHeaderSize+int64(length)+entryTrailerSize]

		computedSum := entryChecksum(header[4:], payload)
		if savedSum != computedSum || !bytes.Equal(trailer, trailerMarker) {
			slog.Warn("delta segment scan stopped at corrupt entry",
				"segment", path,
				"offset", offset,
				"saved_crc", savedSum,
				"computed_crc", computedSum,
				"trailer_torn", !bytes.Equal(trailer, trailerMarker))
			return offset, ErrInvalidCRC
		}

		if visit != nil && !visit(offset, payload) {
			return offset + entrySize, nil
		}
		offset += entrySize
	}

	return offset, nil
}

func entryChecksum(lengthField, data []byte) uint32 {
	sum := crc32.Checksum(lengthField, crcTable)
	return crc32.Update(sum, crcTable, data)
}

func alignUp(n int64) int64 {
	return (n + alignMask) & ^alignMask
}

func isNewSegment(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true, nil
	} else if err != nil {
		return false, fmt.Errorf("stat error: %w", err)
	}
	return false, nil
}
