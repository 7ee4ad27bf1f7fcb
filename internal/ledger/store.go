package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/torsentry/torsentry/internal/errors"
	"github.com/torsentry/torsentry/internal/filelock"
)

// maxLine bounds one serialized block in the ledger file.
const maxLine = 16 << 20

// fileStore appends blocks as JSON lines. The flock it holds makes the
// process the ledger's only writer.
type fileStore struct {
	path string
	lock *filelock.FileLock
	f    *os.File
}

func openFileStore(path string) (*fileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	lock := filelock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrLedgerLocked, lock.Path())
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &fileStore{path: path, lock: lock, f: f}, nil
}

func (s *fileStore) load() ([]Block, error) {
	if _, err := s.f.Seek(0, 0); err != nil {
		return nil, err
	}

	var blocks []Block
	sc := bufio.NewScanner(s.f)
	sc.Buffer(make([]byte, 64<<10), maxLine)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var b Block
		if err := json.Unmarshal(sc.Bytes(), &b); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", apperrors.ErrCorruptLedger, s.path, line, err)
		}
		blocks = append(blocks, b)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrCorruptLedger, s.path, err)
	}
	return blocks, nil
}

func (s *fileStore) append(b Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block %d: %w", b.Index, err)
	}
	data = append(data, '\n')
	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("write block %d: %w", b.Index, err)
	}
	return s.f.Sync()
}

func (s *fileStore) close() error {
	return errors.Join(s.f.Close(), s.lock.Unlock())
}
