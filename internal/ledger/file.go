package ledger

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"utxo-cohort-lab/internal/domain"
)

// maxLineSize bounds one JSON block line.
const maxLineSize = 64 << 20

// FileSource reads blocks from a JSON-lines file, one block per line in
// height order. Requests for a height behind the read position reopen the file.
type FileSource struct {
	path    string
	logger  *zap.Logger
	f       *os.File
	scanner *bufio.Scanner
	line    int
	last    *domain.Block
}

// OpenFile opens a JSON-lines feed.
func OpenFile(path string, logger *zap.Logger) (*FileSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileSource{path: path, logger: logger}
	if err := s.rewind(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSource) rewind() error {
	if s.f != nil {
		_ = s.f.Close()
	}
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	s.f = f
	s.scanner = bufio.NewScanner(f)
	s.scanner.Buffer(make([]byte, 0, 1<<20), maxLineSize)
	s.line = 0
	s.last = nil
	return nil
}

// Block returns the block at h.
func (s *FileSource) Block(ctx context.Context, h domain.Height) (*domain.Block, error) {
	if s.last != nil && s.last.Height == h {
		return s.last, nil
	}
	if s.last != nil && s.last.Height > h {
		s.logger.Debug("rewinding feed", zap.String("path", s.path), zap.Uint64("height", uint64(h)))
		if err := s.rewind(); err != nil {
			return nil, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := s.next()
		if err != nil {
			return nil, err
		}
		switch {
		case b.Height == h:
			return b, nil
		case b.Height > h:
			return nil, fmt.Errorf("%w: %s line %d: height %d, wanted %d", ErrInvalidFeed, s.path, s.line, b.Height, h)
		}
	}
}

func (s *FileSource) next() (*domain.Block, error) {
	for s.scanner.Scan() {
		s.line++
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		b, err := DecodeBlock(line)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", s.path, s.line, err)
		}
		if s.last != nil && b.Height != s.last.Height+1 {
			return nil, fmt.Errorf("%w: %s line %d: height %d follows %d", ErrInvalidFeed, s.path, s.line, b.Height, s.last.Height)
		}
		s.last = b
		return b, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	return nil, ErrEndOfFeed
}

// Close closes the file.
func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// WriteFile writes blocks as a JSON-lines feed.
func WriteFile(w io.Writer, blocks []*domain.Block) error {
	bw := bufio.NewWriter(w)
	for _, b := range blocks {
		line, err := EncodeBlock(b)
		if err != nil {
			return err
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
