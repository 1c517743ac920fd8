package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/google/renameio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	wb "github.com/t7a/weavebase"
	"github.com/t7a/weavebase/api"
	"github.com/t7a/weavebase/codec"
	"github.com/t7a/weavebase/config"
	"github.com/t7a/weavebase/merkle"
	"github.com/t7a/weavebase/stream"
	"github.com/t7a/weavebase/transaction"
	"github.com/t7a/weavebase/wallet"
)

const (
	rcOK       = 0
	rcUsage    = 1
	rcInvalid  = 2
	rcInternal = 42
)

const usage = `weavebase

Usage:
  wb chunks <file>
  wb validate <file>
  wb keygen <keyfile>
  wb address <keyfile>
  wb verify <txfile>
  wb sign [--anchor=<anchor>] [--reward=<reward>] [--tag=<tag>...] [--out=<txfile>] <keyfile> <file>
  wb upload [--state=<statefile>] <keyfile> <file>
  wb resume <statefile> <file>
  wb download <txid> <outfile>
  wb info
  wb peers
  wb balance <addr>
  wb status <txid>
  wb price <bytes> [<target>]
  wb block (--hash=<hash> | --height=<height> | --current)

Options:
  -h --help              Show this screen.
  --version              Show version.
  --anchor=<anchor>      last_tx for the new transaction.
  --reward=<reward>      Reward in winston.
  --tag=<tag>            Tag as name:value, may be repeated.
  -o --out=<txfile>      Write the signed transaction here instead of stdout.
  --state=<statefile>    Save upload progress here after every request.
  --hash=<hash>          Block indep_hash.
  --height=<height>      Block height.
  --current              The current block.

Environment:
  WEAVEBASE_CONFIG       YAML config file.
  WEAVEBASE_HOSTS        Comma-separated peer URLs.
  DEBUG=1                Debug logging.
`

type Opts struct {
	Chunks    bool
	Validate  bool
	Keygen    bool
	Address   bool
	Verify    bool
	Sign      bool
	Upload    bool
	Resume    bool
	Download  bool
	Info      bool
	Peers     bool
	Balance   bool
	Status    bool
	Price     bool
	Block     bool
	File      string
	Keyfile   string
	Txfile    string
	Statefile string
	Outfile   string
	Txid      string
	Addr      string
	Bytes     string
	Target    string
	Anchor    string
	Reward    string
	Tag       []string
	Out       string
	State     string
	Hash      string
	Height    string
	Current   bool
	Help      bool
	Version   bool
}

// usageError is a bad argument; it exits with rcUsage.
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

// invalidError is a failed verification; it exits with rcInvalid.
type invalidError struct {
	msg string
}

func (e *invalidError) Error() string {
	return e.msg
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		cfg = config.Default()
	}
	wb.InitLogging(cfg)
	// see https://github.com/google/go-cmdtest
	os.Exit(run())
}

func run() (rc int) {
	parser := &docopt.Parser{
		OptionsFirst: false,
		HelpHandler: func(err error, usage string) {
			if err == nil {
				fmt.Println(usage)
			}
		},
	}
	o, err := parser.ParseArgs(usage, os.Args[1:], "0.1")
	if err != nil {
		fmt.Fprintln(os.Stderr, "wb: invalid arguments, see wb --help")
		return rcUsage
	}
	if len(o) == 0 {
		// help or version was shown
		return rcOK
	}
	var opts Opts
	err = o.Bind(&opts)
	if err != nil {
		log.Error(err)
		return rcInternal
	}
	log.Debug(opts)

	ctx := context.Background()
	switch true {
	case opts.Chunks:
		err = chunks(ctx, opts.File)
	case opts.Validate:
		err = validate(opts.File)
	case opts.Keygen:
		err = keygen(opts.Keyfile)
	case opts.Address:
		err = address(opts.Keyfile)
	case opts.Verify:
		err = verify(opts.Txfile)
	case opts.Sign:
		err = sign(ctx, &opts)
	case opts.Upload:
		err = upload(ctx, opts.Keyfile, opts.File, opts.State)
	case opts.Resume:
		err = resume(ctx, opts.Statefile, opts.File)
	case opts.Download:
		err = download(ctx, opts.Txid, opts.Outfile)
	case opts.Info:
		err = info(ctx)
	case opts.Peers:
		err = peers(ctx)
	case opts.Balance:
		err = balance(ctx, opts.Addr)
	case opts.Status:
		err = status(ctx, opts.Txid)
	case opts.Price:
		err = price(ctx, opts.Bytes, opts.Target)
	case opts.Block:
		err = block(ctx, &opts)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return rcOK
	}
	fmt.Fprintf(os.Stderr, "wb: %v\n", err)
	var ue *usageError
	var ie *invalidError
	switch {
	case errors.As(err, &ue):
		return rcUsage
	case errors.As(err, &ie):
		return rcInvalid
	}
	return rcInternal
}

func client() (c *wb.Client, err error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, &usageError{err.Error()}
	}
	wb.InitLogging(cfg)
	return wb.New(cfg)
}

func readFile(fn string) (buf []byte, err error) {
	buf, err = ioutil.ReadFile(fn)
	if err != nil {
		return nil, &usageError{err.Error()}
	}
	return
}

func loadKey(fn string) (jwk *wallet.JWK, err error) {
	jwk, err = wallet.LoadJWK(fn)
	if err != nil {
		return nil, &usageError{err.Error()}
	}
	return
}

func chunks(ctx context.Context, fn string) (err error) {
	fh, err := os.Open(fn)
	if err != nil {
		return &usageError{err.Error()}
	}
	defer fh.Close()
	deps := transaction.NewDeps(wallet.Driver{}.New())
	p := stream.Pipeline{Deps: deps}.Init()
	res, size, err := p.GenerateTransactionChunks(ctx, fh)
	if err != nil {
		return
	}
	fmt.Printf("data_root: %s\n", codec.B64UrlEncode(res.DataRoot))
	fmt.Printf("data_size: %d\n", size)
	for i, chunk := range res.Chunks {
		fmt.Printf("chunk %d: %d-%d\n", i, chunk.MinByteRange, chunk.MaxByteRange)
	}
	return
}

func validate(fn string) (err error) {
	data, err := readFile(fn)
	if err != nil {
		return
	}
	m := merkle.Merkle{}.New(wallet.Driver{}.New())
	res, err := m.GenerateTransactionChunks(data)
	if err != nil {
		return
	}
	failed := 0
	for i, proof := range res.Proofs {
		path, ok := m.ValidatePath(res.DataRoot, proof.Offset, 0, int64(len(data)), proof.Proof)
		if !ok || path.RightBound != res.Chunks[i].MaxByteRange {
			fmt.Printf("chunk %d: invalid\n", i)
			failed++
			continue
		}
		fmt.Printf("chunk %d: ok\n", i)
	}
	if failed > 0 {
		return &invalidError{fmt.Sprintf("%d of %d proofs invalid", failed, len(res.Proofs))}
	}
	fmt.Println("valid")
	return
}

func keygen(fn string) (err error) {
	jwk, err := wallet.Driver{}.New().GenerateJWK()
	if err != nil {
		return
	}
	err = jwk.Save(fn)
	if err != nil {
		return
	}
	fmt.Printf("wrote %s\n", fn)
	return
}

func address(fn string) (err error) {
	jwk, err := loadKey(fn)
	if err != nil {
		return
	}
	addr, err := jwk.Address()
	if err != nil {
		return
	}
	fmt.Println(addr)
	return
}

func verify(fn string) (err error) {
	buf, err := readFile(fn)
	if err != nil {
		return
	}
	c := wb.NewWithPeer(nil, nil)
	tx, err := c.Transactions.FromJSON(buf)
	if err != nil {
		return &usageError{err.Error()}
	}
	ok, err := c.Transactions.Verify(tx)
	if err == transaction.ErrIDMismatch {
		return &invalidError{err.Error()}
	}
	if err != nil {
		return
	}
	if !ok {
		return &invalidError{"invalid signature"}
	}
	fmt.Println("valid")
	return
}

func sign(ctx context.Context, opts *Opts) (err error) {
	jwk, err := loadKey(opts.Keyfile)
	if err != nil {
		return
	}
	data, err := readFile(opts.File)
	if err != nil {
		return
	}
	attrs := transaction.Attributes{
		LastTx: opts.Anchor,
		Reward: opts.Reward,
		Data:   data,
	}
	var c *wb.Client
	if attrs.LastTx != "" && attrs.Reward != "" {
		// offline
		c = wb.NewWithPeer(nil, nil)
	} else {
		c, err = client()
		if err != nil {
			return
		}
	}
	tx, err := c.Transactions.Create(ctx, attrs, jwk)
	if err != nil {
		return
	}
	for _, tag := range opts.Tag {
		parts := strings.SplitN(tag, ":", 2)
		if len(parts) != 2 {
			return &usageError{fmt.Sprintf("tag %q is not name:value", tag)}
		}
		tx.AddTag(parts[0], parts[1])
	}
	err = c.Transactions.Sign(tx, jwk, nil)
	if err != nil {
		return
	}
	buf, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return
	}
	buf = append(buf, '\n')
	if opts.Out == "" {
		_, err = os.Stdout.Write(buf)
		return
	}
	err = renameio.WriteFile(opts.Out, buf, 0644)
	if err != nil {
		return
	}
	fmt.Printf("wrote %s\n", opts.Out)
	return
}

// drive runs an uploader to completion, saving its state to statefn
// after every request when statefn is set.
func drive(ctx context.Context, u *transaction.Uploader, statefn string) (err error) {
	for !u.IsComplete() {
		err = u.UploadChunk(ctx)
		if err != nil {
			return
		}
		if statefn != "" {
			err = u.SaveState(statefn)
			if err != nil {
				return
			}
		}
		if msg := u.LastResponseError(); msg != "" {
			fmt.Fprintf(os.Stderr, "retrying after %d: %s\n", u.LastResponseStatus(), msg)
			continue
		}
		fmt.Printf("%d%% %d/%d\n", u.PctComplete(), u.UploadedChunks(), u.TotalChunks())
	}
	fmt.Println(u.Transaction().ID)
	return
}

func upload(ctx context.Context, keyfile, fn, statefn string) (err error) {
	jwk, err := loadKey(keyfile)
	if err != nil {
		return
	}
	data, err := readFile(fn)
	if err != nil {
		return
	}
	c, err := client()
	if err != nil {
		return
	}
	tx, err := c.Transactions.Create(ctx, transaction.Attributes{Data: data}, jwk)
	if err != nil {
		return
	}
	err = c.Transactions.Sign(tx, jwk, nil)
	if err != nil {
		return
	}
	u, err := c.Transactions.GetUploader(ctx, tx, nil)
	if err != nil {
		return
	}
	return drive(ctx, u, statefn)
}

func resume(ctx context.Context, statefn, fn string) (err error) {
	state, err := transaction.LoadState(statefn)
	if err != nil {
		return &usageError{err.Error()}
	}
	data, err := readFile(fn)
	if err != nil {
		return
	}
	c, err := client()
	if err != nil {
		return
	}
	u, err := c.Transactions.ResumeUploader(ctx, state, data)
	if err != nil {
		return
	}
	return drive(ctx, u, statefn)
}

func download(ctx context.Context, id, fn string) (err error) {
	c, err := client()
	if err != nil {
		return
	}
	dir, err := filepath.Abs(filepath.Dir(fn))
	if err != nil {
		return
	}
	pf, err := renameio.TempFile(dir, fn)
	if err != nil {
		return
	}
	defer pf.Cleanup()
	n, err := c.Downloader().Download(ctx, id, pf)
	if err != nil {
		return
	}
	err = pf.CloseAtomicallyReplace()
	if err != nil {
		return
	}
	fmt.Printf("wrote %d bytes to %s\n", n, fn)
	return
}

func info(ctx context.Context) (err error) {
	c, err := client()
	if err != nil {
		return
	}
	ni, err := c.Network.Info(ctx)
	if err != nil {
		return
	}
	fmt.Printf("network: %s\nheight: %d\ncurrent: %s\npeers: %d\n", ni.Network, ni.Height, ni.Current, ni.Peers)
	return
}

func peers(ctx context.Context) (err error) {
	c, err := client()
	if err != nil {
		return
	}
	list, err := c.Network.Peers(ctx)
	if err != nil {
		return
	}
	for _, p := range list {
		fmt.Println(p)
	}
	return
}

func printWinston(winston string) (err error) {
	ar, err := codec.WinstonToAr(winston)
	if err != nil {
		return
	}
	fmt.Printf("%s winston (%s AR)\n", winston, ar)
	return
}

func balance(ctx context.Context, addr string) (err error) {
	c, err := client()
	if err != nil {
		return
	}
	winston, err := c.Wallets.Balance(ctx, addr)
	if err != nil {
		return
	}
	return printWinston(winston)
}

func status(ctx context.Context, id string) (err error) {
	c, err := client()
	if err != nil {
		return
	}
	st, err := c.Transactions.Status(ctx, id)
	if err != nil {
		return
	}
	fmt.Printf("status: %d\n", st.Status)
	if st.Confirmed != nil {
		fmt.Printf("block: %s\nheight: %d\nconfirmations: %d\n",
			st.Confirmed.BlockIndepHash, st.Confirmed.BlockHeight, st.Confirmed.NumberOfConfirmations)
	}
	return
}

func price(ctx context.Context, size, target string) (err error) {
	n, err := strconv.ParseInt(size, 10, 64)
	if err != nil || n < 0 {
		return &usageError{fmt.Sprintf("invalid byte count %q", size)}
	}
	c, err := client()
	if err != nil {
		return
	}
	winston, err := c.Transactions.Price(ctx, n, target)
	if err != nil {
		return
	}
	return printWinston(winston)
}

func block(ctx context.Context, opts *Opts) (err error) {
	c, err := client()
	if err != nil {
		return
	}
	var b *api.Block
	switch {
	case opts.Hash != "":
		b, err = c.Blocks.ByHash(ctx, opts.Hash)
	case opts.Height != "":
		height, perr := strconv.ParseInt(opts.Height, 10, 64)
		if perr != nil {
			return &usageError{fmt.Sprintf("invalid height %q", opts.Height)}
		}
		b, err = c.Blocks.ByHeight(ctx, height)
	default:
		b, err = c.Blocks.Current(ctx)
	}
	if err != nil {
		return
	}
	fmt.Printf("indep_hash: %s\nheight: %d\ntxs: %d\n", b.IndepHash, b.Height, len(b.Txs))
	return
}
