// Command replyrelay runs the keyword auto-reply webhook service.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/replyrelay/internal/api"
	"github.com/replyrelay/internal/config"
	"github.com/replyrelay/internal/dispatch"
	"github.com/replyrelay/internal/graph"
	"github.com/replyrelay/internal/logging"
	"github.com/replyrelay/internal/reply"
	"github.com/replyrelay/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "replyrelay",
		Usage: "keyword auto-reply service for social comment webhooks",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the webhook server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Usage:   "path to a replyrelay.toml configuration file",
						EnvVars: []string{"REPLYRELAY_CONFIG"},
					},
				},
				Action: runServe,
			},
			{
				Name:  "init-config",
				Usage: "write a sample configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "path",
						Value: "./replyrelay.toml",
						Usage: "where to write the sample configuration",
					},
				},
				Action: func(c *cli.Context) error {
					path := c.String("path")
					if err := config.InitConfig(path); err != nil {
						return err
					}
					fmt.Printf("Wrote sample configuration to %s\n", path)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	client := graph.NewClient(graph.Options{
		BaseURL:    cfg.Graph.BaseURL,
		Version:    cfg.Graph.Version,
		Timeout:    time.Duration(cfg.Graph.TimeoutSeconds) * time.Second,
		RatePerSec: cfg.Graph.RatePerSec,
	})

	composer := reply.NewComposer(rand.NewSource(time.Now().UnixNano()))
	dispatcher := dispatch.NewDispatcher(st, st, composer, client)

	server := api.NewServer(cfg.Server.Port, cfg.Webhook.VerifyToken, st, dispatcher)

	log.Info().
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting replyrelay server")

	return server.Start()
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Storage.DSN)
	default:
		return store.NewJSONStore(cfg.Storage.Path)
	}
}
