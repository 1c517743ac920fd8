package transaction

import (
	"context"
	"fmt"
	"io/ioutil"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
	"github.com/vmihailenco/msgpack"

	"github.com/t7a/weavebase/api"
	"github.com/t7a/weavebase/codec"
)

const (
	// transactions with at most this many chunks carry their data in
	// the header post
	maxChunksInBody = 1

	// ErrorDelay is the minimum wait after a failed request.
	ErrorDelay = 40 * time.Second
	// MaxConsecutiveErrors ends an upload.
	MaxConsecutiveErrors = 100
	// jitter takes up to this fraction off each error delay
	errorJitter = 0.3
)

// State is the resumable part of an Uploader, as persisted between
// runs.  Transaction carries no data.
type State struct {
	ChunkIndex         int          `msgpack:"chunk_index"`
	TxPosted           bool         `msgpack:"tx_posted"`
	Transaction        *Transaction `msgpack:"transaction"`
	LastRequestTimeEnd int64        `msgpack:"last_request_time_end"`
	LastResponseStatus int          `msgpack:"last_response_status"`
	LastResponseError  string       `msgpack:"last_response_error"`
}

// Marshal encodes the state as msgpack.
func (s *State) Marshal() ([]byte, error) {
	return msgpack.Marshal(s)
}

// UnmarshalState decodes a state written by Marshal.
func UnmarshalState(buf []byte) (s *State, err error) {
	s = &State{}
	err = msgpack.Unmarshal(buf, s)
	if err != nil {
		return nil, errors.Wrap(err, "Serialized object does not match expected format.")
	}
	return
}

// LoadState reads a state file written by Uploader.SaveState.
func LoadState(fn string) (s *State, err error) {
	buf, err := ioutil.ReadFile(fn)
	if err != nil {
		return
	}
	return UnmarshalState(buf)
}

// Uploader posts a transaction and then its chunks one request at a
// time, so a caller can report progress, save State, and resume after
// a crash.
type Uploader struct {
	peer api.Peer
	tx   *Transaction
	data []byte

	chunkIndex         int
	txPosted           bool
	lastRequestTimeEnd time.Time
	totalErrors        int
	lastResponseStatus int
	lastResponseError  string

	// Sleep waits out error delays.  Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewUploader uploads tx, whose chunks must already be prepared, with
// tx.Data as the data.
func NewUploader(peer api.Peer, tx *Transaction) (u *Uploader, err error) {
	if tx.ID == "" {
		return nil, errors.New("Transaction is not signed")
	}
	if tx.Chunks == nil {
		return nil, errors.New("Transaction chunks not prepared")
	}
	hdr := *tx
	hdr.Data = nil
	u = &Uploader{
		peer:  peer,
		tx:    &hdr,
		data:  tx.Data,
		Sleep: sleep,
	}
	return
}

// FromState resumes an upload.  data must be the data the state was
// saved for.
func FromState(peer api.Peer, deps *Deps, state *State, data []byte) (u *Uploader, err error) {
	defer Return(&err)
	if state == nil || state.Transaction == nil || state.ChunkIndex < 0 {
		return nil, errors.New("Serialized object does not match expected format.")
	}
	tx := *state.Transaction
	tx.deps = deps
	tx.Chunks = nil
	tx.Data = data
	err = tx.PrepareChunks(data)
	Ck(err)
	if tx.DataRoot != state.Transaction.DataRoot {
		return nil, errors.New("Data mismatch: Uploader doesn't match provided data.")
	}
	u, err = NewUploader(peer, &tx)
	Ck(err)
	u.chunkIndex = state.ChunkIndex
	u.txPosted = state.TxPosted
	if state.LastRequestTimeEnd > 0 {
		u.lastRequestTimeEnd = time.UnixMilli(state.LastRequestTimeEnd)
	}
	u.lastResponseStatus = state.LastResponseStatus
	u.lastResponseError = state.LastResponseError
	return
}

// FromTransactionID builds the state for a transaction whose header a
// peer already has, so only its chunks remain to be uploaded.
func FromTransactionID(ctx context.Context, peer api.Peer, id string) (state *State, err error) {
	defer Return(&err)
	resp, err := peer.Get(ctx, "tx/"+id)
	Ck(err)
	if resp.Status != http.StatusOK {
		return nil, errors.Errorf("Tx %s not found: %d", id, resp.Status)
	}
	tx := &Transaction{}
	err = resp.JSON(tx)
	Ck(err)
	tx.Data = nil
	state = &State{
		TxPosted:    true,
		Transaction: tx,
	}
	return
}

// Transaction returns the transaction being uploaded, without data.
func (u *Uploader) Transaction() *Transaction {
	return u.tx
}

func (u *Uploader) TotalChunks() int {
	return len(u.tx.Chunks.Chunks)
}

func (u *Uploader) UploadedChunks() int {
	return u.chunkIndex
}

// IsComplete reports whether the header and every chunk are posted.
func (u *Uploader) IsComplete() bool {
	return u.txPosted && u.chunkIndex >= u.TotalChunks()
}

// PctComplete returns whole percent of chunks uploaded.
func (u *Uploader) PctComplete() int {
	total := u.TotalChunks()
	if total == 0 {
		if u.IsComplete() {
			return 100
		}
		return 0
	}
	return u.chunkIndex * 100 / total
}

func (u *Uploader) LastResponseStatus() int {
	return u.lastResponseStatus
}

func (u *Uploader) LastResponseError() string {
	return u.lastResponseError
}

// State returns a snapshot to persist.
func (u *Uploader) State() *State {
	var end int64
	if !u.lastRequestTimeEnd.IsZero() {
		end = u.lastRequestTimeEnd.UnixMilli()
	}
	return &State{
		ChunkIndex:         u.chunkIndex,
		TxPosted:           u.txPosted,
		Transaction:        u.tx,
		LastRequestTimeEnd: end,
		LastResponseStatus: u.lastResponseStatus,
		LastResponseError:  u.lastResponseError,
	}
}

// SaveState atomically writes State to fn.
func (u *Uploader) SaveState(fn string) (err error) {
	buf, err := u.State().Marshal()
	if err != nil {
		return
	}
	return renameio.WriteFile(fn, buf, 0644)
}

// errorDelay is how long to wait before the next request after a
// failure: at least ErrorDelay from now, less up to 30% jitter.
func (u *Uploader) errorDelay() time.Duration {
	delay := ErrorDelay
	if !u.lastRequestTimeEnd.IsZero() {
		delay = max(time.Until(u.lastRequestTimeEnd.Add(ErrorDelay)), ErrorDelay)
	}
	return delay - time.Duration(float64(delay)*rand.Float64()*errorJitter)
}

// UploadChunk makes one request: the transaction header if it has not
// been posted yet, otherwise the next chunk.  A chunk the peer did not
// take is recorded rather than returned, and the next call retries it
// after a delay.
func (u *Uploader) UploadChunk(ctx context.Context) (err error) {
	defer Return(&err)
	if u.IsComplete() {
		return errors.New("Upload is already complete")
	}
	if u.lastResponseError != "" {
		u.totalErrors++
	} else {
		u.totalErrors = 0
	}
	if u.totalErrors == MaxConsecutiveErrors {
		return errors.Errorf("Unable to complete upload: %d: %s", u.lastResponseStatus, u.lastResponseError)
	}
	if u.lastResponseError != "" {
		err = u.Sleep(ctx, u.errorDelay())
		Ck(err)
	}
	u.lastResponseError = ""

	if !u.txPosted {
		return u.postTransaction(ctx)
	}

	payload, err := u.tx.GetChunk(u.chunkIndex, u.data)
	Ck(err)
	err = u.validate(payload)
	Ck(err)

	resp, perr := u.peer.Post(ctx, "chunk", payload)
	u.record(resp, perr)
	if u.lastResponseStatus == http.StatusOK {
		log.Debugf("[upload:%s] chunk %d/%d done", u.tx.ID, u.chunkIndex+1, u.TotalChunks())
		u.chunkIndex++
		return
	}
	ce := &api.ChunkError{Status: u.lastResponseStatus, Code: u.lastResponseError}
	if ce.Fatal() {
		return errors.Wrapf(ce, "Fatal error uploading chunk %d: %s", u.chunkIndex, u.lastResponseError)
	}
	log.Debugf("[upload:%s] chunk %d failed: %d %s", u.tx.ID, u.chunkIndex, u.lastResponseStatus, u.lastResponseError)
	return
}

// validate checks the chunk's proof against data_root before it goes
// out.
func (u *Uploader) validate(payload *api.ChunkPayload) (err error) {
	defer Return(&err)
	Assert(u.tx.deps != nil, "transaction has no merkle engine")
	root, err := codec.B64UrlDecode(u.tx.DataRoot)
	Ck(err)
	proof, err := codec.B64UrlDecode(payload.DataPath)
	Ck(err)
	offset, err := strconv.ParseInt(payload.Offset, 10, 64)
	Ck(err)
	size, err := strconv.ParseInt(payload.DataSize, 10, 64)
	Ck(err)
	_, ok := u.tx.deps.Merkle.ValidatePath(root, offset, 0, size, proof)
	if !ok {
		return errors.Errorf("Unable to validate chunk %d", u.chunkIndex)
	}
	return
}

// record notes the outcome of a request.  A transport failure is
// recorded as status -1.
func (u *Uploader) record(resp *api.Response, err error) {
	u.lastRequestTimeEnd = time.Now()
	switch {
	case err != nil:
		u.lastResponseStatus = -1
		u.lastResponseError = err.Error()
	case u.txPosted && resp.Status != http.StatusOK, !u.txPosted && !resp.OK():
		u.lastResponseStatus = resp.Status
		u.lastResponseError = api.GetError(resp)
		if u.lastResponseError == "" {
			u.lastResponseError = fmt.Sprintf("status %d", resp.Status)
		}
	default:
		u.lastResponseStatus = resp.Status
	}
}

func (u *Uploader) postTransaction(ctx context.Context) (err error) {
	hdr := *u.tx
	inBody := u.TotalChunks() <= maxChunksInBody
	if inBody {
		hdr.Data = u.data
	}
	resp, perr := u.peer.Post(ctx, "tx", &hdr)
	u.record(resp, perr)
	if u.lastResponseError != "" {
		return fmt.Errorf("Unable to upload transaction: %d, %s", u.lastResponseStatus, u.lastResponseError)
	}
	u.txPosted = true
	if inBody {
		u.chunkIndex = maxChunksInBody
	}
	log.Debugf("[upload:%s] transaction posted, data in body: %v", u.tx.ID, inBody)
	return
}
