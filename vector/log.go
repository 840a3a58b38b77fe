package vector

import (
	"fmt"
	"os"
	"sync"
)

// appendLog is the byte-addressable persistent contract the disk store
// writes through: append returning the record's byte offset, positional
// reads, and a size query. The file-backed log only ever grows; there
// is no compaction.
type appendLog interface {
	ReadAt(p []byte, off int64) (int, error)
	Append(p []byte) (offset int64, err error)
	Size() int64
	Sync() error
	Close() error
}

type fileLog struct {
	f   *os.File
	off int64
}

func openFileLog(path string) (*fileLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat log: %w", err)
	}

	return &fileLog{f: f, off: info.Size()}, nil
}

func (l *fileLog) ReadAt(p []byte, off int64) (int, error) {
	return l.f.ReadAt(p, off)
}

// Append writes p at the end of the file and returns the offset it was
// written at. Callers serialize appends; offset bookkeeping is not
// internally locked.
func (l *fileLog) Append(p []byte) (int64, error) {
	off := l.off
	if _, err := l.f.WriteAt(p, off); err != nil {
		return 0, fmt.Errorf("append log: %w", err)
	}
	l.off += int64(len(p))
	return off, nil
}

func (l *fileLog) Size() int64 {
	return l.off
}

func (l *fileLog) Sync() error {
	return l.f.Sync()
}

func (l *fileLog) Close() error {
	return l.f.Close()
}

// memLog keeps records in a growable byte buffer, used when disk
// storage is disabled.
type memLog struct {
	mu  sync.RWMutex
	buf []byte
}

func newMemLog() *memLog {
	return &memLog{}
}

func (l *memLog) ReadAt(p []byte, off int64) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if off < 0 || off >= int64(len(l.buf)) {
		return 0, fmt.Errorf("read at %d: out of range", off)
	}
	n := copy(p, l.buf[off:])
	if n < len(p) {
		return n, fmt.Errorf("read at %d: short read", off)
	}
	return n, nil
}

func (l *memLog) Append(p []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	off := int64(len(l.buf))
	l.buf = append(l.buf, p...)
	return off, nil
}

func (l *memLog) Size() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.buf))
}

func (l *memLog) Sync() error {
	return nil
}

func (l *memLog) Close() error {
	return nil
}
