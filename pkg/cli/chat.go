package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/usecase/chat"
	"github.com/m-mizutani/docqa/pkg/usecase/pipeline"
	"github.com/m-mizutani/docqa/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const uploadCommand = "/upload"

func chatCommand() *cli.Command {
	var (
		cfg   config
		files []string
	)

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "file",
			Aliases:     []string{"f"},
			Usage:       "PDF document to ingest before the conversation starts",
			Destination: &files,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive conversation about the indexed documents",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, p, closer, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer closer()

			sess := chat.NewSession()
			logging.From(ctx).Debug("chat session started", "session_id", sess.ID())

			w := c.Root().Writer
			if len(files) > 0 {
				if _, err := ingestFiles(ctx, w, errWriter(c), p, sess, files); err != nil {
					return err
				}
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start readline")
			}
			defer rl.Close()

			fmt.Fprintf(w, "Chat session started. Type '%s <file.pdf>' to add documents, 'exit' to quit.\n", uploadCommand)
			return chatLoop(ctx, w, errWriter(c), rl, p, sess)
		},
	}
}

type lineReader interface {
	Readline() (string, error)
}

// chatLoop reads questions until exit. Failures of a single question are
// shown to the user and the conversation goes on.
func chatLoop(ctx context.Context, w, progress io.Writer, rl lineReader, p *pipeline.Pipeline, sess *chat.Session) error {
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read input")
		}

		message := strings.TrimSpace(line)
		switch {
		case message == "":
			continue
		case message == "exit" || message == "quit":
			fmt.Fprintln(w, "\nChat session completed")
			return nil
		case strings.HasPrefix(message, uploadCommand):
			paths := strings.Fields(strings.TrimPrefix(message, uploadCommand))
			if len(paths) == 0 {
				fmt.Fprintf(w, "usage: %s <file.pdf>...\n", uploadCommand)
				continue
			}
			if _, err := ingestFiles(ctx, w, progress, p, sess, paths); err != nil {
				fmt.Fprintln(w, model.UserMessage(err))
			}
			continue
		}

		if _, err := p.Reply(ctx, sess, message, func(fragment string) {
			fmt.Fprint(w, fragment)
		}); err != nil {
			fmt.Fprintln(w)
			fmt.Fprintln(w, model.UserMessage(err))
			continue
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "\nChat session completed")
	return nil
}
