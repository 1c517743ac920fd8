package weavebase

import (
	"context"

	"github.com/t7a/weavebase/api"
	"github.com/t7a/weavebase/wallet"
)

// Network reports on the peer and the network it belongs to.
type Network struct {
	c *Client
}

func (n *Network) Info(ctx context.Context) (*api.NetworkInfo, error) {
	return api.GetInfo(ctx, n.c.Peer)
}

func (n *Network) Peers(ctx context.Context) ([]string, error) {
	return api.GetPeers(ctx, n.c.Peer)
}

// Blocks fetches blocks.  A missing block is an api.BlockNotFound
// error.
type Blocks struct {
	c *Client
}

func (b *Blocks) ByHash(ctx context.Context, indepHash string) (*api.Block, error) {
	return api.GetBlockByHash(ctx, b.c.Peer, indepHash)
}

func (b *Blocks) ByHeight(ctx context.Context, height int64) (*api.Block, error) {
	return api.GetBlockByHeight(ctx, b.c.Peer, height)
}

func (b *Blocks) Current(ctx context.Context) (*api.Block, error) {
	return api.GetCurrentBlock(ctx, b.c.Peer)
}

// Wallets covers balances and keys.
type Wallets struct {
	c *Client
}

// Balance returns the winston balance of addr as a decimal string.
func (w *Wallets) Balance(ctx context.Context, addr string) (string, error) {
	return api.GetBalance(ctx, w.c.Peer, addr)
}

func (w *Wallets) LastTxID(ctx context.Context, addr string) (string, error) {
	return api.GetLastTxID(ctx, w.c.Peer, addr)
}

// Generate returns a new private key.
func (w *Wallets) Generate() (*wallet.JWK, error) {
	return w.c.Crypto.GenerateJWK()
}

func (w *Wallets) JWKToAddress(jwk *wallet.JWK) (string, error) {
	return jwk.Address()
}

func (w *Wallets) OwnerToAddress(owner string) (string, error) {
	return wallet.OwnerToAddress(owner)
}

// Chunks reads transaction data chunk by chunk.
type Chunks struct {
	c *Client
}

func (ch *Chunks) TxOffset(ctx context.Context, id string) (*api.TxOffset, error) {
	return api.GetTxOffset(ctx, ch.c.Peer, id)
}

func (ch *Chunks) GetChunk(ctx context.Context, offset int64) (*api.ChunkResponse, error) {
	return api.GetChunk(ctx, ch.c.Peer, offset)
}

func (ch *Chunks) GetChunkData(ctx context.Context, offset int64) ([]byte, error) {
	return api.GetChunkData(ctx, ch.c.Peer, offset)
}

func (ch *Chunks) DownloadChunkedData(ctx context.Context, id string) ([]byte, error) {
	return ch.c.Downloader().DownloadChunkedData(ctx, id)
}
