package cli

import (
	"context"
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	// .env is optional; values already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Default().Error("failed to load .env", "error", err)
		return &Error{Code: 1, Message: err.Error()}
	}

	cmd := &cli.Command{
		Name:  "docqa",
		Usage: "Ask questions about your PDF documents",
		Commands: []*cli.Command{
			ingestCommand(),
			askCommand(),
			chatCommand(),
			serveCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.Default().Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: model.UserMessage(err),
		}
	}

	return nil
}
