package weavebase

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"

	"github.com/t7a/weavebase/api"
	"github.com/t7a/weavebase/transaction"
	"github.com/t7a/weavebase/wallet"
)

// transactions with more inline data than this are fetched header
// only by Get
const maxInlineData = 12 * 1024 * 1024

// Transactions creates, signs, posts and fetches transactions.
type Transactions struct {
	c *Client
}

func (t *Transactions) Anchor(ctx context.Context) (string, error) {
	return api.GetAnchor(ctx, t.c.Peer)
}

// Price returns the winston reward for size bytes sent to target,
// which may be empty.
func (t *Transactions) Price(ctx context.Context, size int64, target string) (string, error) {
	return api.GetPrice(ctx, t.c.Peer, size, target)
}

// Create builds an unsigned transaction with its chunks prepared.
// Missing owner, last_tx and reward are taken from jwk, the peer's
// anchor and the peer's price.
func (t *Transactions) Create(ctx context.Context, attrs transaction.Attributes, jwk *wallet.JWK) (tx *transaction.Transaction, err error) {
	defer Return(&err)
	if len(attrs.Data) == 0 && !(attrs.Target != "" && attrs.Quantity != "") {
		return nil, errors.New("A new Arweave transaction must have a 'data' value, or 'target' and 'quantity' values.")
	}
	if attrs.Owner == "" && jwk != nil {
		attrs.Owner = jwk.N
	}
	if attrs.LastTx == "" {
		attrs.LastTx, err = t.Anchor(ctx)
		Ck(err)
	}
	if attrs.Reward == "" {
		attrs.Reward, err = t.Price(ctx, int64(len(attrs.Data)), attrs.Target)
		Ck(err)
	}
	tx = transaction.FromAttributes(t.c.Deps, attrs)
	_, err = tx.SignatureData()
	Ck(err)
	return
}

// FromJSON decodes a transaction and binds it to this client.
func (t *Transactions) FromJSON(buf []byte) (*transaction.Transaction, error) {
	return transaction.FromJSON(t.c.Deps, buf)
}

// Get fetches a transaction header.  Format 2 transactions with up to
// 12 MiB of data have their data fetched as well.
func (t *Transactions) Get(ctx context.Context, id string) (tx *transaction.Transaction, err error) {
	defer Return(&err)
	resp, err := t.c.Peer.Get(ctx, "tx/"+id)
	Ck(err)
	switch resp.Status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &api.Error{Type: api.TxNotFound}
	case http.StatusGone:
		return nil, &api.Error{Type: api.TxFailed}
	default:
		return nil, &api.Error{Type: api.TxInvalid, Msg: strconv.Itoa(resp.Status)}
	}
	tx, err = transaction.FromJSON(t.c.Deps, resp.Data)
	Ck(err)
	var size int64
	if tx.DataSize != "" {
		size, err = strconv.ParseInt(tx.DataSize, 10, 64)
		Ck(err)
	}
	if tx.Format >= 2 && size > 0 && size <= maxInlineData {
		data, err := t.GetData(ctx, id)
		Ck(err)
		tx.Data = data
	}
	return
}

// Status returns the confirmation state; Confirmed is set only for 200.
func (t *Transactions) Status(ctx context.Context, id string) (*api.TxStatus, error) {
	return api.GetTxStatus(ctx, t.c.Peer, id)
}

// GetData returns a transaction's data, from the gateway's contiguous
// copy when there is one and chunk by chunk otherwise.
func (t *Transactions) GetData(ctx context.Context, id string) (data []byte, err error) {
	resp, err := t.c.Peer.Get(ctx, id)
	switch {
	case err != nil:
		log.Warnf("contiguous download of %s failed: %v", id, err)
	case resp.Status != http.StatusOK:
		log.Warnf("contiguous download of %s failed: status %d", id, resp.Status)
	default:
		data = resp.Data
	}
	if len(data) == 0 {
		log.Warnf("falling back to chunks for %s", id)
		data, err = t.c.Chunks.DownloadChunkedData(ctx, id)
		if err != nil {
			log.Warnf("chunked download of %s failed: %v", id, err)
		}
	}
	if len(data) == 0 {
		return nil, errors.Errorf("%s data was not found!", id)
	}
	return data, nil
}

// Sign signs tx with jwk, which must hold every private component.
func (t *Transactions) Sign(tx *transaction.Transaction, jwk *wallet.JWK, opts *wallet.SignOptions) (err error) {
	if !jwk.IsPrivate() {
		return errors.New("No valid JWK or external wallet found to sign transaction.")
	}
	tx.SetDeps(t.c.Deps)
	return tx.Sign(t.c.Crypto, jwk, opts)
}

// Verify checks tx's id and signature.  A mismatched id is
// transaction.ErrIDMismatch.
func (t *Transactions) Verify(tx *transaction.Transaction) (bool, error) {
	tx.SetDeps(t.c.Deps)
	return tx.Verify(t.c.Crypto)
}

// GetUploader starts an upload of tx.  data replaces tx.Data when
// given; chunks are prepared if they are not yet.
func (t *Transactions) GetUploader(ctx context.Context, tx *transaction.Transaction, data []byte) (u *transaction.Uploader, err error) {
	defer Return(&err)
	up := *tx
	up.SetDeps(t.c.Deps)
	if data != nil {
		up.Data = data
	}
	if up.Chunks == nil {
		err = up.PrepareChunks(up.Data)
		Ck(err)
	}
	u, err = transaction.NewUploader(t.c.Peer, &up)
	Ck(err)
	t.tune(u)
	return
}

// ResumeUploader continues an upload from saved state.
func (t *Transactions) ResumeUploader(ctx context.Context, state *transaction.State, data []byte) (u *transaction.Uploader, err error) {
	u, err = transaction.FromState(t.c.Peer, t.c.Deps, state, data)
	if err != nil {
		return
	}
	t.tune(u)
	return
}

// UploaderForID uploads data for a transaction whose header the peer
// already has.
func (t *Transactions) UploaderForID(ctx context.Context, id string, data []byte) (u *transaction.Uploader, err error) {
	state, err := transaction.FromTransactionID(ctx, t.c.Peer, id)
	if err != nil {
		return
	}
	return t.ResumeUploader(ctx, state, data)
}

func (t *Transactions) tune(u *transaction.Uploader) {
	if t.c.Sleep != nil {
		u.Sleep = t.c.Sleep
	}
}

// Post uploads tx and its data to completion.  When the upload fails
// after the peer answered, the peer's last status and error come back
// as the response rather than as an error.
func (t *Transactions) Post(ctx context.Context, tx *transaction.Transaction) (resp *api.Response, err error) {
	u, err := t.GetUploader(ctx, tx, nil)
	if err != nil {
		return
	}
	for !u.IsComplete() {
		err = u.UploadChunk(ctx)
		if err == nil {
			continue
		}
		if u.LastResponseStatus() > 0 {
			buf, _ := json.Marshal(map[string]string{"error": u.LastResponseError()})
			return &api.Response{Status: u.LastResponseStatus(), Data: buf}, nil
		}
		return nil, err
	}
	return &api.Response{Status: http.StatusOK, Data: []byte("{}")}, nil
}
