package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	mathrand "math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/block"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/proxy"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/stats"
)

const blockSize = 4096

func main() {
	path := flag.String("path", "", "backing file or block device, a temporary file is used when empty")
	size := flag.Int64("size", 64*1024*1024, "size of the temporary backing file")
	requests := flag.Int("requests", 10000, "number of requests to issue")
	workers := flag.Int("workers", 32, "number of concurrent submitters")
	maxBlocks := flag.Int("max-blocks", 16, "maximum request length in blocks")
	verbose := flag.Bool("verbose", false, "log every request")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err := run(ctx, *path, *size, *requests, *workers, *maxBlocks, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock proxy failed: %v\n", err)

		os.Exit(1)
	}
}

func run(ctx context.Context, path string, size int64, requests, workers, maxBlocks int, verbose bool) error {
	if path == "" {
		dir, err := os.MkdirTemp("", "mock-proxy")
		if err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)

		path = filepath.Join(dir, "backing.img")

		err = os.WriteFile(path, make([]byte, size), 0o600)
		if err != nil {
			return fmt.Errorf("failed to create backing file: %w", err)
		}
	}

	logger := zap.NewNop()
	if verbose {
		logger, _ = zap.NewDevelopment()
	}

	store := stats.NewStore()

	device, err := proxy.New(ctx, store, []string{path},
		proxy.WithLogger(logger),
		proxy.WithMaxInflight(int64(workers)),
	)
	if err != nil {
		return err
	}
	defer device.Close(context.Background())

	deviceSize, err := device.Size()
	if err != nil {
		return err
	}

	blocks := deviceSize / blockSize
	if blocks < int64(maxBlocks) {
		return fmt.Errorf("device of %s is smaller than one request", humanize.IBytes(uint64(deviceSize)))
	}

	fmt.Printf("proxying %s (%s), %d requests from %d workers\n", path, humanize.IBytes(uint64(deviceSize)), requests, workers)

	var (
		forwarded, rejected, failed int64
		counts                      = make(chan [3]int64, workers)
	)

	g, ctx := errgroup.WithContext(ctx)

	per := requests / workers
	for w := range workers {
		n := per
		if w < requests%workers {
			n++
		}

		g.Go(func() error {
			var c [3]int64

			for i := range n {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				length := uint32(1+mathrand.IntN(maxBlocks)) * blockSize
				off := mathrand.Int64N(blocks-int64(length/blockSize)+1) * blockSize

				disp, err := submit(device, uint64(w)<<32|uint64(i), randomRequest(), off, length)

				switch {
				case disp == block.Rejected:
					c[1]++
				case err != nil:
					c[2]++
				default:
					c[0]++
				}
			}

			counts <- c

			return nil
		})
	}

	err = g.Wait()
	close(counts)

	for c := range counts {
		forwarded += c[0]
		rejected += c[1]
		failed += c[2]
	}

	if err != nil {
		return err
	}

	fmt.Printf("forwarded: %d, rejected: %d, failed: %d\n\n", forwarded, rejected, failed)
	fmt.Print(store.Report().String())

	return nil
}

type kind struct {
	op    block.Op
	flags block.Flags
}

func randomRequest() kind {
	switch r := mathrand.IntN(100); {
	case r < 45:
		return kind{op: block.OpRead}
	case r < 55:
		return kind{op: block.OpRead, flags: block.FlagReadAhead}
	case r < 90:
		return kind{op: block.OpWrite}
	case r < 97:
		return kind{op: block.OpDiscard}
	default:
		return kind{op: block.OpOther}
	}
}

func submit(device *proxy.Device, id uint64, k kind, off int64, length uint32) (block.Disposition, error) {
	done := make(chan error, 1)

	req := block.NewRequest(id, k.op, off, length, func(_ *block.Request, err error) {
		done <- err
	})
	req.Flags = k.flags

	if k.op == block.OpWrite {
		req.Data = make([]byte, length)
		_, _ = rand.Read(req.Data)
	}

	disp := device.Handle(req)

	return disp, <-done
}
