package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/docqa/pkg/usecase/chat"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func askCommand() *cli.Command {
	var (
		cfg   config
		files []string
	)

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "file",
			Aliases:     []string{"f"},
			Usage:       "PDF document to ingest before asking",
			Destination: &files,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer one question from the indexed documents",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if question == "" {
				return goerr.New("question is required")
			}

			ctx, p, closer, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer closer()

			w := c.Root().Writer
			sess := chat.NewSession()
			if len(files) > 0 {
				if _, err := ingestFiles(ctx, w, errWriter(c), p, sess, files); err != nil {
					return err
				}
			}

			if _, err := p.Reply(ctx, sess, question, func(fragment string) {
				fmt.Fprint(w, fragment)
			}); err != nil {
				return err
			}
			fmt.Fprintln(w)
			return nil
		},
	}
}
