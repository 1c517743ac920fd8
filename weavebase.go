/*
Package weavebase is a client for a permanent-storage blockweave.

Data is split into chunks of at most MaxChunkSize bytes, which become
the leaves of a Merkle tree; the tree's root (data_root) is signed as
part of a transaction.  The transaction header and the chunks, each
carrying its Merkle proof, are uploaded to peers separately.

Vocabulary:

- peer: a node or gateway speaking the HTTP API
- winston: the smallest currency unit; 10^12 winston is one AR
- anchor: a recent block hash used as a transaction's last_tx
- data_root: Merkle root over a transaction's chunks
- weave offset: absolute byte position of chunk data in the weave

The Client wires the lower-level packages together: api for peer
transport, merkle and deephash for the data structures, transaction
for the signed model and resumable uploads, stream for constant-memory
pipelines, and wallet for keys and signatures.
*/
package weavebase

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/t7a/weavebase/api"
	"github.com/t7a/weavebase/config"
	"github.com/t7a/weavebase/stream"
	"github.com/t7a/weavebase/transaction"
	"github.com/t7a/weavebase/wallet"
)

// Client talks to the network through one Peer.
type Client struct {
	Config *config.Config
	Peer   api.Peer
	Crypto *wallet.Driver
	Deps   *transaction.Deps

	Network      *Network
	Blocks       *Blocks
	Wallets      *Wallets
	Transactions *Transactions
	Chunks       *Chunks

	// Sleep waits between failed upload requests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New builds a client over the hosts in cfg.  A nil cfg uses
// config.Default.
func New(cfg *config.Config) (c *Client, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	err = cfg.Validate()
	if err != nil {
		return
	}
	peer, err := cfg.Peer()
	if err != nil {
		return nil, errors.Wrap(err, "configuring peers")
	}
	c = NewWithPeer(peer, wallet.Driver{}.New())
	c.Config = cfg
	return
}

// NewWithPeer builds a client over an existing transport.
func NewWithPeer(peer api.Peer, crypto *wallet.Driver) (c *Client) {
	if crypto == nil {
		crypto = wallet.Driver{}.New()
	}
	c = &Client{
		Config: config.Default(),
		Peer:   peer,
		Crypto: crypto,
		Deps:   transaction.NewDeps(crypto),
	}
	c.Network = &Network{c}
	c.Blocks = &Blocks{c}
	c.Wallets = &Wallets{c}
	c.Transactions = &Transactions{c}
	c.Chunks = &Chunks{c}
	return
}

// Pipeline returns the streaming stages bound to this client's peer.
func (c *Client) Pipeline() *stream.Pipeline {
	return stream.Pipeline{Peer: c.Peer, Deps: c.Deps}.Init()
}

// Downloader returns a chunk downloader tuned by the configuration.
func (c *Client) Downloader() *stream.Downloader {
	return stream.Downloader{
		Peer:        c.Peer,
		Concurrency: c.Config.DownloadConcurrency,
		Retries:     c.retries(),
	}.Init()
}

// retries maps the configured count onto the stream options, where
// zero selects the default.  A configured zero means no retries.
func (c *Client) retries() int {
	if c.Config.Retries == 0 {
		return -1
	}
	return c.Config.Retries
}

// UploadOptions returns the stream upload options from the
// configuration.
func (c *Client) UploadOptions() *stream.Options {
	opts := stream.DefaultOptions()
	opts.Concurrency = c.Config.UploadConcurrency
	opts.Retries = c.retries()
	return opts
}

// CreateTransaction is Transactions.Create.
func (c *Client) CreateTransaction(ctx context.Context, attrs transaction.Attributes, jwk *wallet.JWK) (*transaction.Transaction, error) {
	return c.Transactions.Create(ctx, attrs, jwk)
}
