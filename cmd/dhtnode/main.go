package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/prxssh/dhtd/internal/config"
	"github.com/prxssh/dhtd/internal/dht"
	"github.com/prxssh/dhtd/pkg/logging"
)

func main() {
	app := &cli.App{
		Name:  "dhtnode",
		Usage: "stand-alone BitTorrent Mainline DHT node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: ":6881", Usage: "UDP listen address"},
			&cli.StringSliceFlag{Name: "bootstrap", Usage: "bootstrap node host:port (repeatable)"},
			&cli.StringFlag{Name: "node-id-seed", Usage: "deterministic node id seed (testing only)"},
			&cli.StringFlag{Name: "routing-table", Usage: "path to persist the routing table across restarts"},
			&cli.BoolFlag{Name: "debug-wire", Usage: "log a correlation id for every inbound datagram"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug-level logging"},
			&cli.IntFlag{Name: "max-in-flight", Usage: "ceiling on concurrent outstanding queries (0 keeps the default)"},
			&cli.IntFlag{Name: "max-datagram-size", Usage: "reject inbound UDP datagrams larger than this many bytes (0 keeps the default)"},
			&cli.IntFlag{Name: "bucket-size", Usage: "routing table bucket size, K (0 keeps the default)"},
			&cli.IntFlag{Name: "lookup-concurrency", Usage: "lookup task concurrency, alpha (0 keeps the default)"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("dhtnode exited with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	setupLogger(c.Bool("verbose"))

	config.Init()
	cfg := config.Update(func(cfg *config.Config) {
		cfg.ListenAddr = c.String("listen")
		cfg.NodeIDSeed = c.String("node-id-seed")
		cfg.RoutingTablePath = c.String("routing-table")
		cfg.DebugWire = c.Bool("debug-wire")
		if bootstrap := c.StringSlice("bootstrap"); len(bootstrap) > 0 {
			cfg.BootstrapNodes = bootstrap
		}
		if n := c.Int("max-in-flight"); n > 0 {
			cfg.MaxInFlight = n
		}
		if n := c.Int("max-datagram-size"); n > 0 {
			cfg.MaxDatagramSize = n
		}
		if n := c.Int("bucket-size"); n > 0 {
			cfg.K = n
		}
		if n := c.Int("lookup-concurrency"); n > 0 {
			cfg.Alpha = n
		}
	})

	node, err := dht.New(cfg, slog.Default())
	if err != nil {
		return err
	}

	loadRoutingTable(node, cfg)
	node.Start()
	slog.Info("joining network", "bootstrap", strings.Join(cfg.BootstrapNodes, ","))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	slog.Info("shutting down")
	node.Stop()
	saveRoutingTable(node, cfg)

	return nil
}

func loadRoutingTable(node *dht.DHT, cfg *config.Config) {
	if cfg.RoutingTablePath == "" {
		return
	}

	f, err := os.Open(cfg.RoutingTablePath)
	if err != nil {
		return
	}
	defer f.Close()

	_, nodes, err := dht.LoadRoutingTable(f)
	if err != nil {
		slog.Warn("failed to load routing table", "path", cfg.RoutingTablePath, "error", err.Error())
		return
	}

	for _, n := range nodes {
		node.RoutingTable().AddSilent(n)
	}
	slog.Info("loaded routing table", "contacts", len(nodes))
}

func saveRoutingTable(node *dht.DHT, cfg *config.Config) {
	if cfg.RoutingTablePath == "" {
		return
	}

	f, err := os.Create(cfg.RoutingTablePath)
	if err != nil {
		slog.Warn("failed to save routing table", "path", cfg.RoutingTablePath, "error", err.Error())
		return
	}
	defer f.Close()

	if err := dht.SaveRoutingTable(node.RoutingTable(), f); err != nil {
		slog.Warn("failed to save routing table", "error", err.Error())
	}
}

func setupLogger(verbose bool) {
	opts := logging.DefaultOptions()
	if verbose {
		opts.SlogOpts.Level = slog.LevelDebug
		opts.SlogOpts.AddSource = true
	}

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	slog.SetDefault(slog.New(h))
}
