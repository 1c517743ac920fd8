package stream

import (
	"io"

	"github.com/pkg/errors"

	"github.com/t7a/weavebase/merkle"
)

// Segmenter cuts a reader into segments of exactly Size bytes.  The
// last segment holds whatever is left and is never empty.
type Segmenter struct {
	Size int
	rd   io.Reader
	done bool
}

func (s Segmenter) Init() (res *Segmenter, err error) {
	if s.Size == 0 {
		s.Size = merkle.MaxChunkSize
	}
	if s.Size < 0 {
		return nil, errors.Errorf("invalid segment size %d", s.Size)
	}
	return &s, nil
}

func (s *Segmenter) Start(rd io.Reader) {
	s.rd = rd
	s.done = false
}

// Next returns the next segment in a fresh buffer.  When the last
// segment has been returned, all subsequent calls yield io.EOF.
func (s *Segmenter) Next() (seg []byte, err error) {
	if s.done {
		return nil, io.EOF
	}
	seg = make([]byte, s.Size)
	n, err := io.ReadFull(s.rd, seg)
	switch err {
	case nil:
		return seg, nil
	case io.EOF:
		s.done = true
		return nil, io.EOF
	case io.ErrUnexpectedEOF:
		s.done = true
		return seg[:n], nil
	default:
		return nil, errors.Wrap(err, "reading segment")
	}
}
