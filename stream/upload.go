package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/t7a/weavebase/api"
	"github.com/t7a/weavebase/codec"
	"github.com/t7a/weavebase/merkle"
	"github.com/t7a/weavebase/transaction"
)

const (
	// DefaultUploadConcurrency is how many chunk posts run at once.
	DefaultUploadConcurrency = 128
	// DefaultRetries is how often a failed chunk request is retried.
	DefaultRetries = 10

	createTxRetries = 10
)

// Options tunes UploadTransaction.
type Options struct {
	Concurrency int
	// CreateTx posts the transaction header before the chunks.  Leave
	// it false to reseed data for a transaction peers already have.
	CreateTx bool
	// Retries per chunk; zero is DefaultRetries, negative is none.
	Retries int
}

func DefaultOptions() *Options {
	return &Options{
		Concurrency: DefaultUploadConcurrency,
		CreateTx:    true,
		Retries:     DefaultRetries,
	}
}

func retries(n int) int {
	switch {
	case n == 0:
		return DefaultRetries
	case n < 0:
		return 0
	}
	return n
}

func isTransportError(err error) bool {
	var te *api.TransportError
	return errors.As(err, &te)
}

// uploadState matches incoming segments to the transaction's chunks.
// Segments are cut at MaxChunkSize, so only a rebalanced final pair
// differs: the bytes past the second-to-last chunk are carried into
// the last.
type uploadState struct {
	chunks []merkle.Chunk
	idx    int
	carry  []byte
}

func (s *uploadState) next(seg []byte) (data []byte, err error) {
	terminated := &ProtocolError{"Transaction data stream terminated incorrectly."}
	if s.idx >= len(s.chunks) {
		return nil, terminated
	}
	size := int(s.chunks[s.idx].Size())
	switch {
	case s.carry == nil && len(seg) == size:
		data = seg
	case s.carry == nil && len(seg) > size:
		data = seg[:size]
		s.carry = seg[size:]
	case s.carry != nil && len(s.carry)+len(seg) == size:
		data = make([]byte, 0, size)
		data = append(append(data, s.carry...), seg...)
		s.carry = nil
	default:
		return nil, terminated
	}
	s.idx++
	return
}

// UploadTransaction streams the data in rd to the peer as the chunks of
// tx, whose chunks must already be computed from the same bytes.  Every
// chunk is checked against its proof before it is posted.  A fatal
// peer code or protocol error stops scheduling new chunks, waits for
// those in flight, and is returned.
func (p *Pipeline) UploadTransaction(ctx context.Context, tx *transaction.Transaction, rd io.Reader, opts *Options) (err error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultUploadConcurrency
	}
	chunkRetries := retries(opts.Retries)
	if tx.Chunks == nil {
		return errors.New("Transaction has no computed chunks!")
	}
	logf := func(format string, args ...interface{}) {
		log.Debugf("[upload:"+tx.ID+"] "+format, args...)
	}
	logf("starting chunked upload - %d chunks / %s total bytes", len(tx.Chunks.Chunks), tx.DataSize)

	if opts.CreateTx {
		hdr := *tx
		hdr.Data = nil
		var resp *api.Response
		err = api.Retry(ctx, api.RetryOptions{Retries: createTxRetries, MinDelay: p.RetryDelay, Retryable: isTransportError}, func() (err error) {
			resp, err = api.PostTx(ctx, p.Peer, &hdr)
			return
		})
		if err != nil {
			return
		}
		if !resp.OK() {
			return errors.Errorf("Failed to create transaction: status %d / data %s", resp.Status, resp.Data)
		}
	}

	dataSize, err := strconv.ParseInt(tx.DataSize, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid data_size %q", tx.DataSize)
	}
	root := tx.Chunks.DataRoot
	state := &uploadState{chunks: tx.Chunks.Chunks}
	seg, err := Segmenter{}.Init()
	if err != nil {
		return
	}
	seg.Start(rd)

	g, gctx := errgroup.WithContext(ctx)
	// abort waits for uploads in flight before reporting e
	abort := func(e error) error {
		_ = g.Wait()
		return e
	}
	inflight := 0
	for gctx.Err() == nil {
		buf, err := seg.Next()
		if errors.Cause(err) == io.EOF {
			break
		}
		if err != nil {
			return abort(err)
		}
		idx := state.idx
		data, err := state.next(buf)
		if err != nil {
			return abort(err)
		}
		logf("got chunk %d - %d bytes", idx, len(data))

		chunk := state.chunks[idx]
		proof := tx.Chunks.Proofs[idx]
		check, err := p.Deps.Merkle.NewChunk(data, chunk.MinByteRange)
		if err != nil {
			return abort(err)
		}
		if !bytes.Equal(check.DataHash, chunk.DataHash) {
			return abort(&ProofError{Index: idx})
		}
		if _, ok := p.Deps.Merkle.ValidatePath(root, proof.Offset, 0, dataSize, proof.Proof); !ok {
			return abort(&ProofError{Index: idx})
		}
		payload := &api.ChunkPayload{
			DataRoot: tx.DataRoot,
			DataSize: tx.DataSize,
			DataPath: codec.B64UrlEncode(proof.Proof),
			Offset:   strconv.FormatInt(proof.Offset, 10),
			Chunk:    codec.B64UrlEncode(data),
		}

		if inflight >= concurrency {
			err = g.Wait()
			if err != nil {
				return err
			}
			g, gctx = errgroup.WithContext(ctx)
			inflight = 0
		}
		gc := gctx
		g.Go(func() error {
			return api.Retry(gc, api.RetryOptions{Retries: chunkRetries, MinDelay: p.RetryDelay}, func() error {
				return api.PostChunk(gc, p.Peer, payload)
			})
		})
		inflight++
		logf("chunk %d queued", idx)
	}

	err = g.Wait()
	if err != nil {
		return
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if state.carry != nil {
		return &ProtocolError{"Transaction data stream terminated incorrectly."}
	}
	if state.idx < len(state.chunks) {
		return &ProtocolError{fmt.Sprintf("Transaction upload incomplete: %d/%d chunks uploaded.", state.idx, len(state.chunks))}
	}
	logf("upload complete")
	return
}
