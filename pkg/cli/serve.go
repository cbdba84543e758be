package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/service/mcp"
	"github.com/m-mizutani/docqa/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"
)

const version = "0.1.0"

func serveCommand() *cli.Command {
	var (
		cfg       config
		transport string
		addr      string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "transport",
			Usage:       "MCP transport (stdio, http)",
			Value:       "stdio",
			Sources:     cli.EnvVars("DOCQA_MCP_TRANSPORT"),
			Destination: &transport,
		},
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address of the http transport",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("DOCQA_MCP_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve ingest and ask as MCP tools",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, p, closer, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer closer()

			server := mcp.NewServer(p, version)

			switch transport {
			case "stdio":
				return server.Run(ctx, &mcpsdk.StdioTransport{})

			case "http":
				srv := &http.Server{
					Addr:              addr,
					Handler:           server.Handler(),
					ReadHeaderTimeout: 10 * time.Second,
				}
				go func() {
					<-ctx.Done()
					_ = srv.Shutdown(context.Background())
				}()

				logging.From(ctx).Info("serving MCP over http", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return goerr.Wrap(err, "http server failed", goerr.V("addr", addr))
				}
				return nil

			default:
				return goerr.New("unsupported transport",
					goerr.V("transport", transport),
					goerr.V("supported", []string{"stdio", "http"}),
					goerr.T(model.ErrTagInvalidConfig))
			}
		},
	}
}
