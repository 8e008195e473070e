// Command mircv-query answers free-text queries against an index built by
// mircv-build, interactively or in TREC-style batch mode.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"

	"github.com/rpcpool/mircv/builder"
	"github.com/rpcpool/mircv/diskmap"
	"github.com/rpcpool/mircv/internal/filecache"
	"github.com/rpcpool/mircv/internal/mircverrors"
	"github.com/rpcpool/mircv/lexicon"
	"github.com/rpcpool/mircv/query"
	"github.com/rpcpool/mircv/scorer"
	"github.com/rpcpool/mircv/shard"
	"github.com/rpcpool/mircv/tokenizer"
	"github.com/rpcpool/mircv/workerpool"
)

// shardFileCapacity bounds how many of a collection's open shard-file
// handles filecache.ShardFileCache keeps warm at once: four files per
// shard (docids, freqs, document index, lexicon), so this covers roughly
// 64 shards' worth of handles before the LRU starts evicting.
const shardFileCapacity = 256

// readViaCache opens name through fc (reusing an already-open handle if
// one exists), reads it fully via ReadAt (handles returned by
// ShardFileCache are shared, so callers must not depend on the current
// file position), and releases the handle back to the cache.
func readViaCache(fc *filecache.ShardFileCache, name string) ([]byte, error) {
	f, err := fc.Open(name)
	if err != nil {
		return nil, err
	}
	defer fc.Close(f)

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, info.Size())
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

var log = logging.Logger("mircv-query")

// collection is every open shard plus the global statistics a scorer
// needs, shared read-only across query threads.
type collection struct {
	shards    []*shard.Shard
	globalLex *diskmap.Reader[uint64]
	totalDocs uint64
	avgdl     float64
}

func openCollection(dataDir string) (*collection, error) {
	fc := filecache.New(shardFileCapacity)

	globalData, err := readViaCache(fc, filepath.Join(dataDir, "global_lexicon"))
	if err != nil {
		return nil, fmt.Errorf("read global lexicon: %w", err)
	}
	globalLex, err := diskmap.Open[uint64](globalData, diskmap.Uint64Codec{})
	if err != nil {
		return nil, fmt.Errorf("open global lexicon: %w", err)
	}

	metaData, err := readViaCache(fc, filepath.Join(dataDir, "metadata"))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	sumDocLen, totalDocs, err := builder.ReadMetadata(metaData)
	if err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	avgdl := 0.0
	if totalDocs > 0 {
		avgdl = float64(sumDocLen) / float64(totalDocs)
	}

	dirs, err := filepath.Glob(filepath.Join(dataDir, "db_*"))
	if err != nil {
		return nil, fmt.Errorf("glob shard directories: %w", err)
	}
	sort.Strings(dirs)

	shards := make([]*shard.Shard, 0, len(dirs))
	for i, dir := range dirs {
		docidStream, err := readViaCache(fc, filepath.Join(dir, "posting_lists_docids"))
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", dir, err)
		}
		freqStream, err := readViaCache(fc, filepath.Join(dir, "posting_lists_freqs"))
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", dir, err)
		}
		diData, err := readViaCache(fc, filepath.Join(dir, "document_index"))
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", dir, err)
		}
		lexData, err := readViaCache(fc, filepath.Join(dir, "lexicon"))
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", dir, err)
		}
		sh, err := shard.Open(i, docidStream, freqStream, diData, lexData, avgdl)
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", dir, err)
		}
		shards = append(shards, sh)
	}

	return &collection{shards: shards, globalLex: globalLex, totalDocs: totalDocs, avgdl: avgdl}, nil
}

// globalDF resolves every query term's corpus-wide document frequency,
// leaving terms absent from the global lexicon out of the map entirely:
// such terms are dropped in disjunctive mode and zero out a whole shard's
// results in conjunctive mode.
func (c *collection) globalDF(terms []string) map[string]uint64 {
	out := make(map[string]uint64, len(terms))
	for _, t := range terms {
		it := c.globalLex.Find([]byte(t))
		if it.Done() {
			continue
		}
		out[t] = it.Value()
	}
	return out
}

// search runs one query across every shard. A query that tokenizes to
// zero terms is mircverrors.ErrEmptyQuery; callers recover it by emitting
// no results.
func (c *collection) search(terms []string, algorithm string, sc scorer.Scorer, topK int, pool *workerpool.Pool) ([]query.Result, error) {
	terms = tokenizer.Dedup(terms)
	if len(terms) == 0 {
		return nil, mircverrors.ErrEmptyQuery
	}
	df := c.globalDF(terms)

	perShard := make([][]query.Result, len(c.shards))
	var wg sync.WaitGroup
	wg.Add(len(c.shards))
	for i, sh := range c.shards {
		i, sh := i, sh
		pool.Submit(func() {
			defer wg.Done()
			switch algorithm {
			case "daat-c":
				perShard[i] = sh.Query(terms, df, c.totalDocs, sc, true, topK)
			case "bmm":
				perShard[i] = sh.QueryBMM(terms, df, c.totalDocs, sc, topK)
			default:
				perShard[i] = sh.Query(terms, df, c.totalDocs, sc, false, topK)
			}
		})
	}
	wg.Wait()
	return query.MergeTopK(perShard, topK), nil
}

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
		Name:        "mircv-query",
		Usage:       "answer queries against an index built by mircv-build",
		ArgsUsage:   "[data-dir]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "top-k", Aliases: []string{"k"}, Value: 10, Usage: "top-k per query"},
			&cli.StringFlag{Name: "run-name", Aliases: []string{"r"}, Value: "MIRCV0", Usage: "run tag in TREC-style output"},
			&cli.StringFlag{Name: "algorithm", Aliases: []string{"a"}, Value: "daat", Usage: "daat, daat-c, or bmm"},
			&cli.BoolFlag{Name: "batch", Aliases: []string{"b"}, Usage: "read \"<q_id> <query>\" lines from stdin instead of prompting interactively"},
			&cli.StringFlag{Name: "data-dir", Aliases: []string{"d"}, Value: "data", Usage: "index directory"},
			&cli.IntFlag{Name: "threads", Aliases: []string{"t"}, Value: runtime.NumCPU(), Usage: "query worker count"},
			&cli.StringFlag{Name: "score", Aliases: []string{"s"}, Value: "bm25", Usage: "bm25 or tfidf"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "log level for mircv subsystems"},
		},
		Commands: []*cli.Command{
			newCmdDumpLexiconJSON(),
		},
		Action: func(c *cli.Context) error {
			if err := logging.SetLogLevel("mircv-query", c.String("log-level")); err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}

			dataDir := c.String("data-dir")
			if c.Args().Present() {
				dataDir = c.Args().First()
			}

			sc, ok := scorer.ByName(c.String("score"))
			if !ok {
				return fmt.Errorf("unknown scorer %q", c.String("score"))
			}
			algorithm := c.String("algorithm")
			switch algorithm {
			case "daat", "daat-c", "bmm":
			default:
				return fmt.Errorf("unknown algorithm %q", algorithm)
			}

			col, err := openCollection(dataDir)
			if err != nil {
				return fmt.Errorf("open index: %w", err)
			}
			log.Infof("opened %d shards, %d documents, avgdl %.2f", len(col.shards), col.totalDocs, col.avgdl)

			pool := workerpool.New(c.Int("threads"))
			defer pool.Shutdown()

			topK := c.Int("top-k")
			runName := c.String("run-name")

			if c.Bool("batch") {
				return runBatch(col, pool, sc, algorithm, topK, runName)
			}
			return runInteractive(col, pool, sc, algorithm, topK)
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func runBatch(col *collection, pool *workerpool.Pool, sc scorer.Scorer, algorithm string, topK int, runName string) error {
	tok := tokenizer.Default{}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		qid, text, ok := strings.Cut(line, " ")
		if !ok {
			log.Warnf("skipping malformed query line: %q", line)
			continue
		}
		results, err := col.search(tok.Tokenize(text), algorithm, sc, topK, pool)
		if errors.Is(err, mircverrors.ErrEmptyQuery) {
			log.Warnf("query %s has no indexable terms", qid)
			continue
		}
		for rank, r := range results {
			fmt.Printf("%s Q0 %s %d %.6f %s\n", qid, docnoFor(col, r), rank+1, r.Score, runName)
		}
	}
	return scanner.Err()
}

func runInteractive(col *collection, pool *workerpool.Pool, sc scorer.Scorer, algorithm string, topK int) error {
	tok := tokenizer.Default{}
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("query> ")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text != "" {
			results, err := col.search(tok.Tokenize(text), algorithm, sc, topK, pool)
			if errors.Is(err, mircverrors.ErrEmptyQuery) {
				fmt.Println("no indexable terms in query")
			}
			for rank, r := range results {
				fmt.Printf("%d. %s (score %.6f)\n", rank+1, docnoFor(col, r), r.Score)
			}
		}
		fmt.Print("query> ")
	}
	fmt.Println()
	return scanner.Err()
}

// docnoFor resolves a merged Result's docid to its external document
// number by finding the shard whose contiguous range contains it.
func docnoFor(col *collection, r query.Result) string {
	for _, sh := range col.shards {
		if sh.Contains(r.DocID) {
			return sh.DocNo(r.DocID)
		}
	}
	return strconv.FormatUint(r.DocID, 10)
}

func newCmdDumpLexiconJSON() *cli.Command {
	return &cli.Command{
		Name:      "dump-lexicon-json",
		Usage:     "dump a shard's local lexicon as JSON, for debugging",
		ArgsUsage: "<shard-dir>",
		Action: func(c *cli.Context) error {
			dir := c.Args().First()
			if dir == "" {
				return fmt.Errorf("missing required <shard-dir> argument")
			}
			lexData, err := os.ReadFile(filepath.Join(dir, "lexicon"))
			if err != nil {
				return fmt.Errorf("read lexicon: %w", err)
			}
			lex, err := diskmap.Open[lexicon.SigmaValue](lexData, lexicon.SigmaValueCodec{})
			if err != nil {
				return fmt.Errorf("open lexicon: %w", err)
			}

			type entry struct {
				Term            string `json:"term"`
				NDocs           uint64 `json:"n_docs"`
				Bm25SigmaFixed  uint64 `json:"bm25_sigma_fixed"`
				TfidfSigmaFixed uint64 `json:"tfidf_sigma_fixed"`
				NumSkips        int    `json:"num_skips"`
			}
			var entries []entry
			for it := lex.Begin(); !it.Done(); it.Next() {
				v := it.Value()
				entries = append(entries, entry{
					Term:            string(it.Key()),
					NDocs:           v.NDocs,
					Bm25SigmaFixed:  v.Bm25SigmaFixed,
					TfidfSigmaFixed: v.TfidfSigmaFixed,
					NumSkips:        len(v.Skips),
				})
			}

			enc := jsoniter.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
}
