package stream

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/t7a/weavebase/api"
	"github.com/t7a/weavebase/merkle"
)

// DefaultDownloadConcurrency is how many chunks are fetched at once.
const DefaultDownloadConcurrency = 10

// Downloader fetches a transaction's data chunk by chunk.
type Downloader struct {
	Peer        api.Peer
	Concurrency int
	// Retries per chunk; zero is DefaultRetries, negative is none.
	Retries    int
	RetryDelay time.Duration
}

func (d Downloader) Init() *Downloader {
	if d.Concurrency <= 0 {
		d.Concurrency = DefaultDownloadConcurrency
	}
	d.Retries = retries(d.Retries)
	if d.RetryDelay == 0 {
		d.RetryDelay = time.Second
	}
	return &d
}

func (d *Downloader) fetch(ctx context.Context, offset int64) (buf []byte, err error) {
	err = api.Retry(ctx, api.RetryOptions{Retries: d.Retries, MinDelay: d.RetryDelay}, func() (err error) {
		buf, err = api.GetChunkData(ctx, d.Peer, offset)
		return
	})
	return
}

// Download writes the data of transaction id to w in order and returns
// the number of bytes written.  All chunks but the last two are
// MaxChunkSize long and are fetched through a rolling window of
// Concurrency requests.  The last two may have been rebalanced, so
// they are fetched one after the other at the running byte count.
func (d *Downloader) Download(ctx context.Context, id string, w io.Writer) (n int64, err error) {
	meta, err := api.GetTxOffset(ctx, d.Peer, id)
	if err != nil {
		return
	}
	size := meta.Size
	start := meta.FirstChunkOffset()
	nchunks := int((size + merkle.MaxChunkSize - 1) / merkle.MaxChunkSize)
	parallel := max(nchunks-2, 0)
	log.Debugf("[download:%s] start %d size %d chunks %d", id, start, size, nchunks)

	var processed atomic.Int64
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	// abort cancels and waits for requests in flight before reporting e
	abort := func(e error) (int64, error) {
		cancel()
		_ = g.Wait()
		return n, e
	}

	results := make([]chan []byte, parallel)
	launched := 0
	launch := func() {
		i := launched
		launched++
		ch := make(chan []byte, 1)
		results[i] = ch
		offset := start + int64(i)*merkle.MaxChunkSize
		g.Go(func() error {
			buf, err := d.fetch(gctx, offset)
			if err != nil {
				return err
			}
			processed.Add(int64(len(buf)))
			ch <- buf
			return nil
		})
	}
	for launched < min(d.Concurrency, parallel) {
		launch()
	}
	for i := 0; i < parallel; i++ {
		var buf []byte
		select {
		case buf = <-results[i]:
		case <-gctx.Done():
			err = g.Wait()
			if err == nil {
				err = ctx.Err()
			}
			return n, err
		}
		if launched < parallel {
			launch()
		}
		if len(buf) != merkle.MaxChunkSize {
			return abort(errors.Errorf("chunk %d of %s has %d bytes, expected %d", i, id, len(buf), merkle.MaxChunkSize))
		}
		m, err := w.Write(buf)
		n += int64(m)
		if err != nil {
			return abort(err)
		}
	}
	err = g.Wait()
	if err != nil {
		return
	}

	for n < size {
		buf, err := d.fetch(ctx, start+n)
		if err != nil {
			return n, err
		}
		if len(buf) == 0 {
			break
		}
		processed.Add(int64(len(buf)))
		m, err := w.Write(buf)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	if got := processed.Load(); got != size {
		return n, errors.Errorf("got %dB, expected %dB", got, size)
	}
	log.Debugf("[download:%s] done, %d bytes", id, n)
	return
}

// DownloadChunkedData returns the whole data of transaction id.
func (d *Downloader) DownloadChunkedData(ctx context.Context, id string) (data []byte, err error) {
	var buf bytes.Buffer
	_, err = d.Download(ctx, id, &buf)
	if err != nil {
		return
	}
	return buf.Bytes(), nil
}
