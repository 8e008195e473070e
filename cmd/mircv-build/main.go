// Command mircv-build reads a "<pid>\t<text>\n" document stream from stdin
// (or from the file named by --input) and builds a disk-resident inverted
// index under the given output directory.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"

	"github.com/dustin/go-humanize"
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8"

	"github.com/rpcpool/mircv/builder"
)

var log = logging.Logger("mircv-build")

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-interrupt:
			log.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "mircv-build",
		Usage:       "build a disk-resident inverted index from a document stream",
		Description: "Reads \"<pid>\\t<text>\\n\" lines and writes shards, a global lexicon, and corpus metadata to the output directory.",
		ArgsUsage:   "<output-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "input",
				Usage: "input file (defaults to stdin)",
			},
			&cli.UintFlag{
				Name:  "threads",
				Usage: "number of chunk workers (0 selects runtime.NumCPU())",
				Value: 0,
			},
			&cli.BoolFlag{
				Name:  "compress-docnos",
				Usage: "zstd-compress each shard's docno heap",
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "show a progress bar while building",
				Value: true,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level for mircv subsystems (debug, info, warn, error)",
				Value: "info",
			},
		},
		Action: func(c *cli.Context) error {
			if err := logging.SetLogLevel("mircv-build", c.String("log-level")); err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			if err := logging.SetLogLevel("mircv/builder", c.String("log-level")); err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}

			outDir := c.Args().First()
			if outDir == "" {
				return fmt.Errorf("missing required <output-dir> argument")
			}

			var r io.Reader = os.Stdin
			if in := c.String("input"); in != "" {
				f, err := os.Open(in)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				r = f
			}

			numWorkers := int(c.Uint("threads"))
			if numWorkers == 0 {
				numWorkers = runtime.NumCPU()
			}

			var p *mpb.Progress
			if c.Bool("progress") {
				p = mpb.New(mpb.WithWidth(64))
			}

			b := builder.New(builder.Options{
				NumWorkers:     numWorkers,
				CompressDocnos: c.Bool("compress-docnos"),
				Progress:       p,
			})

			stats, err := b.Run(ctx, r, outDir)
			if p != nil {
				p.Wait()
			}
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}

			log.Infof("built %d shards, %s documents, avgdl %.2f, in %s",
				stats.NumShards,
				humanize.Comma(int64(stats.NumDocs)),
				stats.AvgDocLen(),
				stats.Elapsed.Truncate(1e6),
			)
			return nil
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
