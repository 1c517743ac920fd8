// Package stream builds, uploads and downloads transaction data
// incrementally, without holding the whole payload in memory.  Chunks
// and proofs built from a stream are identical to those built from the
// same bytes in one buffer.
package stream

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"

	"github.com/t7a/weavebase/api"
	"github.com/t7a/weavebase/merkle"
	"github.com/t7a/weavebase/transaction"
	"github.com/t7a/weavebase/wallet"
)

const (
	anchorRetries = 10
	priceRetries  = 5
)

// ProtocolError is a stream that breaks the chunking rules.  It is
// never retried.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return e.Msg
}

// ProofError is a chunk whose proof failed local validation before
// upload.
type ProofError struct {
	Index int
}

func (e *ProofError) Error() string {
	return fmt.Sprintf("Unable to validate chunk %d.", e.Index)
}

// Pipeline runs the streaming stages against one peer.
type Pipeline struct {
	Peer api.Peer
	Deps *transaction.Deps
	// RetryDelay is the first backoff delay for retried requests.
	RetryDelay time.Duration
}

func (p Pipeline) Init() *Pipeline {
	if p.RetryDelay == 0 {
		p.RetryDelay = time.Second
	}
	return &p
}

// chunkState is the incremental chunker.  It holds the previous
// segment so a short final segment can be rebalanced with it.
type chunkState struct {
	m         *merkle.Merkle
	chunks    []merkle.Chunk
	cursor    int64
	prev      []byte
	completed bool
}

func (s *chunkState) add(buf []byte, min int64) (chunk merkle.Chunk, err error) {
	chunk, err = s.m.NewChunk(buf, min)
	if err != nil {
		return
	}
	s.chunks = append(s.chunks, chunk)
	return
}

// push takes the next segment.  Only the final segment may be shorter
// than MinChunkSize; when it is, it is merged with the previous
// segment and the pair is split in half.
func (s *chunkState) push(seg []byte) (err error) {
	defer Return(&err)
	if s.completed {
		return &ProtocolError{"Expected chunk generation to have completed."}
	}
	switch {
	case len(seg) > merkle.MaxChunkSize:
		return &ProtocolError{"Encountered chunk larger than max chunk size."}
	case len(seg) >= merkle.MinChunkSize:
		_, err = s.add(seg, s.cursor)
		Ck(err)
	default:
		if s.prev != nil {
			prev := s.chunks[len(s.chunks)-1]
			s.chunks = s.chunks[:len(s.chunks)-1]
			rest := make([]byte, 0, len(s.prev)+len(seg))
			rest = append(append(rest, s.prev...), seg...)
			half := (len(rest) + 1) / 2
			left, err := s.add(rest[:half], prev.MinByteRange)
			Ck(err)
			_, err = s.add(rest[half:], left.MaxByteRange)
			Ck(err)
		} else {
			_, err = s.add(seg, s.cursor)
			Ck(err)
		}
		s.completed = true
	}
	s.cursor += int64(len(seg))
	s.prev = seg
	return
}

// finish closes the chunk list.  Data that ends on a MaxChunkSize
// boundary, including no data at all, gets the trailing zero-length
// chunk the whole-buffer chunker produces.
func (s *chunkState) finish() (err error) {
	if s.cursor%merkle.MaxChunkSize == 0 && !s.completed {
		_, err = s.add(nil, s.cursor)
	}
	return
}

// GenerateTransactionChunks reads rd to the end and returns its chunks,
// proofs and data_root along with the number of bytes read.
func (p *Pipeline) GenerateTransactionChunks(ctx context.Context, rd io.Reader) (res *merkle.TransactionChunks, size int64, err error) {
	defer Return(&err)
	seg, err := Segmenter{}.Init()
	Ck(err)
	seg.Start(rd)
	state := &chunkState{m: p.Deps.Merkle}
	for {
		Ck(ctx.Err())
		buf, err := seg.Next()
		if errors.Cause(err) == io.EOF {
			break
		}
		Ck(err)
		err = state.push(buf)
		if err != nil {
			return nil, 0, err
		}
	}
	err = state.finish()
	Ck(err)
	res, err = p.Deps.Merkle.TransactionChunks(state.chunks)
	Ck(err)
	log.Debugf("generated %d chunks over %d bytes", len(res.Chunks), state.cursor)
	return res, state.cursor, nil
}

// CreateTransaction builds an unsigned transaction for the data in rd.
// Owner defaults to jwk's modulus, last_tx to a fresh anchor and reward
// to the peer's price for the data size.
func (p *Pipeline) CreateTransaction(ctx context.Context, attrs transaction.Attributes, rd io.Reader, jwk *wallet.JWK) (tx *transaction.Transaction, err error) {
	defer Return(&err)
	chunks, size, err := p.GenerateTransactionChunks(ctx, rd)
	if err != nil {
		return
	}

	attrs.Data = nil
	if attrs.Owner == "" && jwk != nil {
		attrs.Owner = jwk.N
	}
	if attrs.LastTx == "" {
		err = api.Retry(ctx, api.RetryOptions{Retries: anchorRetries, MinDelay: p.RetryDelay}, func() (err error) {
			attrs.LastTx, err = api.GetAnchor(ctx, p.Peer)
			return
		})
		Ck(err)
	}
	if attrs.Reward == "" {
		err = api.Retry(ctx, api.RetryOptions{Retries: priceRetries, MinDelay: p.RetryDelay}, func() (err error) {
			attrs.Reward, err = api.GetPrice(ctx, p.Peer, size, attrs.Target)
			return
		})
		Ck(err)
	}

	tx = transaction.FromAttributes(p.Deps, attrs)
	tx.DataSize = strconv.FormatInt(size, 10)
	tx.SetChunks(chunks)
	return
}
