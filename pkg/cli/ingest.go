package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/usecase/chat"
	"github.com/m-mizutani/docqa/pkg/usecase/pipeline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func ingestCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "ingest",
		Usage:     "Index PDF documents",
		ArgsUsage: "<file.pdf>...",
		Flags:     allFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() == 0 {
				return goerr.New("at least one file is required")
			}

			ctx, p, closer, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer closer()

			results, err := ingestFiles(ctx, c.Root().Writer, errWriter(c), p, chat.NewSession(), c.Args().Slice())
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != nil {
					return goerr.New("some documents could not be ingested")
				}
			}
			return nil
		},
	}
}

// readUploads loads files from disk.
func readUploads(paths []string) ([]*model.Upload, error) {
	uploads := make([]*model.Upload, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read file", goerr.V("path", path))
		}
		uploads = append(uploads, &model.Upload{
			Filename: filepath.Base(path),
			Data:     data,
		})
	}
	return uploads, nil
}

// ingestFiles reads and ingests files with a spinner on progress and prints
// one line per file to w. Per-file failures are reported, not returned.
func ingestFiles(ctx context.Context, w, progress io.Writer, p *pipeline.Pipeline, sess *chat.Session, paths []string) ([]*model.IngestResult, error) {
	uploads, err := readUploads(paths)
	if err != nil {
		return nil, err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(progress))
	s.Suffix = fmt.Sprintf(" Indexing %d document(s)...", len(uploads))
	s.Start()
	results := p.Ingest(ctx, sess, uploads...)
	s.Stop()

	printResults(w, results)
	return results, nil
}

func printResults(w io.Writer, results []*model.IngestResult) {
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(w, "✗ %s: %s\n", r.Filename, model.UserMessage(r.Err))
		case r.Skipped:
			fmt.Fprintf(w, "- %s: already indexed\n", r.Filename)
		case r.Chunks == 0:
			fmt.Fprintf(w, "- %s: no extractable text\n", r.Filename)
		default:
			fmt.Fprintf(w, "✓ %s: %d chunk(s) indexed\n", r.Filename, r.Chunks)
		}
	}
}
