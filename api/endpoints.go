package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/t7a/weavebase/codec"
)

func getJSON(ctx context.Context, p Peer, path, what string, v interface{}) (err error) {
	resp, err := p.Get(ctx, path)
	if err != nil {
		return
	}
	if resp.Status != http.StatusOK {
		return &StatusError{Status: resp.Status, Msg: fmt.Sprintf("%s: %s", what, GetError(resp))}
	}
	return resp.JSON(v)
}

// getText returns the body as a string; balances and prices are
// integers too large for JSON numbers.
func getText(ctx context.Context, p Peer, path, what string) (txt string, err error) {
	resp, err := p.Get(ctx, path)
	if err != nil {
		return
	}
	if resp.Status != http.StatusOK {
		return "", &StatusError{Status: resp.Status, Msg: fmt.Sprintf("%s: %s", what, GetError(resp))}
	}
	return strings.TrimSpace(string(resp.Data)), nil
}

func GetInfo(ctx context.Context, p Peer) (info *NetworkInfo, err error) {
	info = &NetworkInfo{}
	err = getJSON(ctx, p, "info", "Unable to get network info", info)
	if err != nil {
		return nil, err
	}
	return
}

func GetPeers(ctx context.Context, p Peer) (peers []string, err error) {
	err = getJSON(ctx, p, "peers", "Unable to get peers", &peers)
	return
}

func getBlock(ctx context.Context, p Peer, path string) (block *Block, err error) {
	resp, err := p.Get(ctx, path)
	if err != nil {
		return
	}
	switch resp.Status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &Error{Type: BlockNotFound}
	default:
		return nil, &StatusError{Status: resp.Status, Msg: "Error while loading block data: " + GetError(resp)}
	}
	block = &Block{}
	err = resp.JSON(block)
	if err != nil {
		return nil, err
	}
	return
}

// GetBlockByHash fetches a block by its indep_hash.
func GetBlockByHash(ctx context.Context, p Peer, indepHash string) (*Block, error) {
	return getBlock(ctx, p, "block/hash/"+indepHash)
}

func GetBlockByHeight(ctx context.Context, p Peer, height int64) (*Block, error) {
	return getBlock(ctx, p, fmt.Sprintf("block/height/%d", height))
}

// GetCurrentBlock fetches the block named by info.current.
func GetCurrentBlock(ctx context.Context, p Peer) (block *Block, err error) {
	info, err := GetInfo(ctx, p)
	if err != nil {
		return
	}
	return GetBlockByHash(ctx, p, info.Current)
}

// GetBalance returns the winston balance of addr.
func GetBalance(ctx context.Context, p Peer, addr string) (string, error) {
	return getText(ctx, p, "wallet/"+addr+"/balance", "Unable to get balance")
}

func GetLastTxID(ctx context.Context, p Peer, addr string) (string, error) {
	return getText(ctx, p, "wallet/"+addr+"/last_tx", "Unable to get last transaction")
}

// GetAnchor returns a recent block hash to use as last_tx.
func GetAnchor(ctx context.Context, p Peer) (string, error) {
	return getText(ctx, p, "tx_anchor", "Unable to get transaction anchor")
}

// GetPrice returns the winston reward for storing size bytes, with
// the new-wallet fee included when target is set.
func GetPrice(ctx context.Context, p Peer, size int64, target string) (string, error) {
	path := fmt.Sprintf("price/%d", size)
	if target != "" {
		path += "/" + target
	}
	return getText(ctx, p, path, "Unable to get price")
}

func GetTxStatus(ctx context.Context, p Peer, id string) (status *TxStatus, err error) {
	resp, err := p.Get(ctx, "tx/"+id+"/status")
	if err != nil {
		return
	}
	status = &TxStatus{Status: resp.Status}
	if resp.Status == http.StatusOK {
		status.Confirmed = &Confirmation{}
		err = resp.JSON(status.Confirmed)
		if err != nil {
			return nil, err
		}
	}
	return
}

func GetTxOffset(ctx context.Context, p Peer, id string) (offset *TxOffset, err error) {
	offset = &TxOffset{}
	err = getJSON(ctx, p, "tx/"+id+"/offset", "Unable to get transaction offset", offset)
	if err != nil {
		return nil, err
	}
	return
}

func GetChunk(ctx context.Context, p Peer, offset int64) (chunk *ChunkResponse, err error) {
	chunk = &ChunkResponse{}
	err = getJSON(ctx, p, fmt.Sprintf("chunk/%d", offset), "Unable to get chunk", chunk)
	if err != nil {
		return nil, err
	}
	return
}

// GetChunkData returns the decoded bytes of the chunk containing the
// absolute weave offset.
func GetChunkData(ctx context.Context, p Peer, offset int64) (buf []byte, err error) {
	chunk, err := GetChunk(ctx, p, offset)
	if err != nil {
		return
	}
	return codec.B64UrlDecode(chunk.Chunk)
}

// PostChunk uploads one chunk.  A refusal comes back as a ChunkError.
func PostChunk(ctx context.Context, p Peer, payload *ChunkPayload) (err error) {
	resp, err := p.Post(ctx, "chunk", payload)
	if err != nil {
		return
	}
	if resp.Status != http.StatusOK {
		return &ChunkError{Status: resp.Status, Code: GetError(resp)}
	}
	return
}

// PostTx submits a transaction header (or a whole transaction with
// inline data) and returns the raw response.
func PostTx(ctx context.Context, p Peer, tx interface{}) (resp *Response, err error) {
	resp, err = p.Post(ctx, "tx", tx)
	if err != nil {
		return nil, errors.Wrap(err, "posting transaction")
	}
	return
}
