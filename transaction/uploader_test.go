package transaction

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/t7a/weavebase/api"
	"github.com/t7a/weavebase/codec"
	"github.com/t7a/weavebase/merkle"
)

// memPeer is an in-memory peer that accepts transactions and chunks.
// Bodies go through JSON so the wire form is what gets checked.
type memPeer struct {
	mu     sync.Mutex
	txs    []*Transaction
	chunks []*api.ChunkPayload
	data   map[int64][]byte
	// chunkReply, when set, overrides the answer to chunk posts
	chunkReply func(n int) (*api.Response, error)
	txReply    *api.Response
	getTx      map[string]*api.Response
}

func newMemPeer() *memPeer {
	return &memPeer{data: map[int64][]byte{}, getTx: map[string]*api.Response{}}
}

func (p *memPeer) Get(ctx context.Context, path string) (*api.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := strings.TrimPrefix(path, "tx/")
	if resp, ok := p.getTx[id]; ok {
		return resp, nil
	}
	return &api.Response{Status: 404, Data: []byte("Not Found")}, nil
}

func (p *memPeer) Post(ctx context.Context, path string, body interface{}) (*api.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	switch path {
	case "tx":
		if p.txReply != nil {
			return p.txReply, nil
		}
		tx := &Transaction{}
		err = json.Unmarshal(buf, tx)
		if err != nil {
			return nil, err
		}
		p.txs = append(p.txs, tx)
		return &api.Response{Status: 200, Data: []byte("OK")}, nil
	case "chunk":
		n := len(p.chunks)
		if p.chunkReply != nil {
			resp, err := p.chunkReply(n)
			if resp != nil || err != nil {
				return resp, err
			}
		}
		payload := &api.ChunkPayload{}
		err = json.Unmarshal(buf, payload)
		if err != nil {
			return nil, err
		}
		p.chunks = append(p.chunks, payload)
		chunk, err := codec.B64UrlDecode(payload.Chunk)
		if err != nil {
			return nil, err
		}
		offset, err := strconv.ParseInt(payload.Offset, 10, 64)
		if err != nil {
			return nil, err
		}
		p.data[offset] = chunk
		return &api.Response{Status: 200, Data: []byte("OK")}, nil
	}
	return &api.Response{Status: 404}, nil
}

// reassemble joins uploaded chunks in offset order.
func (p *memPeer) reassemble(tx *Transaction) (buf []byte) {
	for _, proof := range tx.Chunks.Proofs {
		buf = append(buf, p.data[proof.Offset]...)
	}
	return
}

type sleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func signedTx(t *testing.T, data []byte) *Transaction {
	d, deps, jwk := setup(t)
	tx := New(deps)
	tx.SetData(data)
	tx.Reward = "1000"
	tx.AddTag("Content-Type", "application/octet-stream")
	err := tx.Sign(d, jwk, nil)
	tassert(t, err == nil, "%v", err)
	return tx
}

func mkUploader(t *testing.T, peer api.Peer, tx *Transaction) (*Uploader, *sleeps) {
	u, err := NewUploader(peer, tx)
	tassert(t, err == nil, "%v", err)
	s := &sleeps{}
	u.Sleep = s.sleep
	return u, s
}

func TestUploaderChunked(t *testing.T) {
	ctx := context.Background()
	data := pattern(600000)
	tx := signedTx(t, data)
	peer := newMemPeer()
	u, _ := mkUploader(t, peer, tx)
	tassert(t, u.TotalChunks() == 3, "total %d", u.TotalChunks())

	var pcts []int
	for !u.IsComplete() {
		err := u.UploadChunk(ctx)
		tassert(t, err == nil, "%v", err)
		pcts = append(pcts, u.PctComplete())
	}
	tassert(t, fmt.Sprint(pcts) == "[0 33 66 100]", "progress %v", pcts)
	tassert(t, len(peer.txs) == 1, "headers posted %d", len(peer.txs))
	tassert(t, len(peer.txs[0].Data) == 0, "chunked upload should not inline data")
	tassert(t, peer.txs[0].ID == tx.ID, "posted id %s", peer.txs[0].ID)
	tassert(t, len(peer.chunks) == 3, "chunks posted %d", len(peer.chunks))
	tassert(t, string(peer.reassemble(tx)) == string(data), "reassembled data differs")

	err := u.UploadChunk(ctx)
	tassert(t, err != nil && err.Error() == "Upload is already complete", "got %v", err)
	tassert(t, len(tx.Data) == len(data), "uploader changed the caller's transaction")
}

func TestUploaderInline(t *testing.T) {
	ctx := context.Background()
	data := pattern(1000)
	tx := signedTx(t, data)
	peer := newMemPeer()
	u, _ := mkUploader(t, peer, tx)
	tassert(t, u.TotalChunks() == 1, "total %d", u.TotalChunks())

	err := u.UploadChunk(ctx)
	tassert(t, err == nil, "%v", err)
	tassert(t, u.IsComplete(), "single chunk upload should finish with the header")
	tassert(t, u.PctComplete() == 100, "pct %d", u.PctComplete())
	tassert(t, string(peer.txs[0].Data) == string(data), "inline data differs")
	tassert(t, len(peer.chunks) == 0, "no chunk posts expected, got %d", len(peer.chunks))
}

func TestUploaderRetry(t *testing.T) {
	ctx := context.Background()
	tx := signedTx(t, pattern(600000))
	peer := newMemPeer()
	fails := 2
	peer.chunkReply = func(n int) (*api.Response, error) {
		if n == 1 && fails > 0 {
			fails--
			if fails == 0 {
				return nil, fmt.Errorf("connection reset")
			}
			return &api.Response{Status: 503, Data: []byte(`{"error":"timeout"}`)}, nil
		}
		return nil, nil
	}
	u, s := mkUploader(t, peer, tx)
	for i := 0; i < 3; i++ {
		err := u.UploadChunk(ctx)
		tassert(t, err == nil, "%v", err)
	}
	tassert(t, u.UploadedChunks() == 1, "uploaded %d", u.UploadedChunks())
	tassert(t, u.LastResponseStatus() == 503, "status %d", u.LastResponseStatus())
	tassert(t, u.LastResponseError() == "timeout", "error %q", u.LastResponseError())

	err := u.UploadChunk(ctx)
	tassert(t, err == nil, "%v", err)
	tassert(t, u.LastResponseStatus() == -1, "transport failure status %d", u.LastResponseStatus())
	tassert(t, strings.Contains(u.LastResponseError(), "connection reset"), "error %q", u.LastResponseError())

	for !u.IsComplete() {
		err := u.UploadChunk(ctx)
		tassert(t, err == nil, "%v", err)
	}
	tassert(t, len(s.delays) == 2, "delays %v", s.delays)
	for _, d := range s.delays {
		lo := ErrorDelay - time.Duration(float64(ErrorDelay)*errorJitter)
		tassert(t, d >= lo && d <= ErrorDelay, "delay %v out of range", d)
	}
	tassert(t, len(peer.chunks) == 3, "chunks %d", len(peer.chunks))
}

func TestUploaderFatal(t *testing.T) {
	ctx := context.Background()
	tx := signedTx(t, pattern(600000))
	peer := newMemPeer()
	peer.chunkReply = func(n int) (*api.Response, error) {
		return &api.Response{Status: 400, Data: []byte(`{"error":"invalid_proof"}`)}, nil
	}
	u, _ := mkUploader(t, peer, tx)
	err := u.UploadChunk(ctx)
	tassert(t, err == nil, "%v", err)
	err = u.UploadChunk(ctx)
	tassert(t, api.IsFatal(err), "expected fatal chunk error, got %v", err)
	tassert(t, strings.Contains(err.Error(), "Fatal error uploading chunk 0: invalid_proof"), "message %q", err)
}

func TestUploaderGivesUp(t *testing.T) {
	ctx := context.Background()
	tx := signedTx(t, pattern(600000))
	peer := newMemPeer()
	peer.chunkReply = func(n int) (*api.Response, error) {
		return &api.Response{Status: 500, Data: []byte("overloaded")}, nil
	}
	u, s := mkUploader(t, peer, tx)
	var err error
	for i := 0; i < 2*MaxConsecutiveErrors && err == nil; i++ {
		err = u.UploadChunk(ctx)
	}
	tassert(t, err != nil && err.Error() == "Unable to complete upload: 500: overloaded", "got %v", err)
	tassert(t, len(s.delays) == MaxConsecutiveErrors-1, "delays %d", len(s.delays))
}

func TestUploaderTxRejected(t *testing.T) {
	tx := signedTx(t, pattern(600000))
	peer := newMemPeer()
	peer.txReply = &api.Response{Status: 400, Data: []byte(`{"error":"tx_fields_too_large"}`)}
	u, _ := mkUploader(t, peer, tx)
	err := u.UploadChunk(context.Background())
	tassert(t, err != nil && err.Error() == "Unable to upload transaction: 400, tx_fields_too_large", "got %v", err)
	tassert(t, u.LastResponseStatus() == 400, "status %d", u.LastResponseStatus())
}

func TestUploaderCorruptProof(t *testing.T) {
	tx := signedTx(t, pattern(600000))
	u, _ := mkUploader(t, newMemPeer(), tx)
	err := u.UploadChunk(context.Background())
	tassert(t, err == nil, "%v", err)
	u.tx.Chunks.Proofs[0].Proof[0] ^= 0xff
	err = u.UploadChunk(context.Background())
	tassert(t, err != nil && strings.Contains(err.Error(), "Unable to validate chunk 0"), "got %v", err)
}

func TestUploaderResume(t *testing.T) {
	ctx := context.Background()
	_, deps, _ := setup(t)
	data := pattern(3*merkle.MaxChunkSize + 5000)
	tx := signedTx(t, data)
	peer := newMemPeer()
	u, _ := mkUploader(t, peer, tx)
	for i := 0; i < 3; i++ {
		err := u.UploadChunk(ctx)
		tassert(t, err == nil, "%v", err)
	}
	fn := filepath.Join(t.TempDir(), "upload.state")
	err := u.SaveState(fn)
	tassert(t, err == nil, "%v", err)

	state, err := LoadState(fn)
	tassert(t, err == nil, "%v", err)
	tassert(t, state.ChunkIndex == 2 && state.TxPosted, "state %+v", state)
	tassert(t, state.Transaction.ID == tx.ID, "state id %s", state.Transaction.ID)
	tassert(t, len(state.Transaction.Data) == 0, "state should not carry data")

	_, err = FromState(peer, deps, state, pattern(1000))
	tassert(t, err != nil && err.Error() == "Data mismatch: Uploader doesn't match provided data.", "got %v", err)

	u2, err := FromState(peer, deps, state, data)
	tassert(t, err == nil, "%v", err)
	u2.Sleep = (&sleeps{}).sleep
	tassert(t, u2.UploadedChunks() == 2, "resumed at %d", u2.UploadedChunks())
	for !u2.IsComplete() {
		err := u2.UploadChunk(ctx)
		tassert(t, err == nil, "%v", err)
	}
	tassert(t, len(peer.txs) == 1, "header posted again")
	tassert(t, string(peer.reassemble(u2.Transaction())) == string(data), "reassembled data differs")

	_, err = FromState(peer, deps, &State{}, data)
	tassert(t, err != nil && err.Error() == "Serialized object does not match expected format.", "got %v", err)
	_, err = UnmarshalState([]byte("not msgpack"))
	tassert(t, err != nil, "garbage state should not decode")
}

func TestUploaderFromTransactionID(t *testing.T) {
	ctx := context.Background()
	_, deps, _ := setup(t)
	data := pattern(600000)
	tx := signedTx(t, data)
	hdr := *tx
	hdr.Data = nil
	buf, err := json.Marshal(&hdr)
	tassert(t, err == nil, "%v", err)

	peer := newMemPeer()
	peer.getTx[tx.ID] = &api.Response{Status: 200, Data: buf}

	_, err = FromTransactionID(ctx, peer, "missing")
	tassert(t, err != nil && err.Error() == "Tx missing not found: 404", "got %v", err)

	state, err := FromTransactionID(ctx, peer, tx.ID)
	tassert(t, err == nil, "%v", err)
	tassert(t, state.TxPosted && state.ChunkIndex == 0, "state %+v", state)

	u, err := FromState(peer, deps, state, data)
	tassert(t, err == nil, "%v", err)
	for !u.IsComplete() {
		err := u.UploadChunk(ctx)
		tassert(t, err == nil, "%v", err)
	}
	tassert(t, len(peer.txs) == 0, "header should not be posted again")
	tassert(t, len(peer.chunks) == 3, "chunks %d", len(peer.chunks))
}

func TestNewUploaderChecks(t *testing.T) {
	_, deps, _ := setup(t)
	tx := New(deps)
	_, err := NewUploader(newMemPeer(), tx)
	tassert(t, err != nil, "unsigned transaction should be rejected")
	tx.ID = "x"
	_, err = NewUploader(newMemPeer(), tx)
	tassert(t, err != nil && strings.Contains(err.Error(), "chunks not prepared"), "got %v", err)
}
