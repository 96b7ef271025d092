package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	gobayeux "github.com/sigmavirus24/gobayeux/v3"
	"github.com/sigmavirus24/gobayeux/v3/extensions/ack"
	"github.com/sigmavirus24/gobayeux/v3/extensions/replay"
	"github.com/sigmavirus24/gobayeux/v3/extensions/salesforce"
	"github.com/sigmavirus24/gobayeux/v3/extensions/timesync"
)

func main() {
	var (
		flagCfg    = defaultConfig()
		configPath string
	)
	flags := flag.NewFlagSet("t", flag.ExitOnError)
	flags.StringVar(&configPath, "config", "", "a YAML file holding the configuration; flags override it")
	flags.StringVar(&flagCfg.Protocol, "protocol", flagCfg.Protocol, "the protocol to use (http or https)")
	flags.UintVar(&flagCfg.Port, "port", flagCfg.Port, "the port used to connect to the Bayeux server")
	flags.UintVar(&flagCfg.EventBuffer, "buffer", flagCfg.EventBuffer, "the number of events to buffer")
	flags.StringVar(&flagCfg.Hostname, "hostname", "", "the hostname to connect to")
	flags.StringVar(&flagCfg.Path, "path", "", "the path used to connect to bayeux")
	flags.StringVar(&flagCfg.LogLevel, "loglevel", flagCfg.LogLevel, "the level to log at")
	flags.StringVar(&flagCfg.AccessToken, "token", "", "a Salesforce access token")
	flags.StringVar(&flagCfg.MetricsAddr, "metrics", "", "serve prometheus metrics on this address")
	flags.BoolVar(&flagCfg.Extensions.Ack, "ack", false, "enable the ack extension")
	flags.BoolVar(&flagCfg.Extensions.Timesync, "timesync", false, "enable the timesync extension")
	flags.BoolVar(&flagCfg.Extensions.Replay, "replay", false, "enable the replay extension")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Printf("error parsing flags: %q\n", err)
		os.Exit(1)
	}
	flagCfg.Channels = flags.Args()

	cfg := defaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = loadConfig(configPath); err != nil {
			fmt.Printf("error loading config: %q\n", err)
			os.Exit(1)
		}
	}
	set := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	cfg.override(flagCfg, set)

	logger := logrus.New()
	logger.SetLevel(cfg.level())

	registry := prometheus.NewRegistry()
	opts := []gobayeux.Option{
		gobayeux.WithLogger(logger),
		gobayeux.WithMetricsRegisterer(registry),
	}
	if len(cfg.Options) > 0 {
		opts = append(opts, gobayeux.WithOptionsMap(cfg.Options))
	}
	if cfg.AccessToken != "" {
		opts = append(opts, gobayeux.WithHTTPTransport(salesforce.NewStaticTokenAuthenticator(cfg.AccessToken, nil)))
	}
	if cfg.Extensions.Ack {
		opts = append(opts, gobayeux.WithExtension(ack.New()))
	}
	if cfg.Extensions.Timesync {
		opts = append(opts, gobayeux.WithExtension(timesync.New()))
	}
	if cfg.Extensions.Replay {
		opts = append(opts, gobayeux.WithExtension(replay.New()))
	}

	client, err := gobayeux.NewClient(cfg.serverURL(), opts...)
	if err != nil {
		fmt.Printf("error initializing client: %q\n", err)
		os.Exit(1)
	}
	logger.Debug("got client")

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	output := make(chan []gobayeux.Message, cfg.EventBuffer)
	for _, name := range cfg.Channels {
		client.Subscribe(gobayeux.Channel(name), output)
	}
	errc := client.Start(ctx)

	for {
		select {
		case err, ok := <-errc:
			if !ok {
				logger.Info("client stopped")
				return
			}
			fmt.Printf("error in bayeux client: %q\n", err)
			os.Exit(2)
		case ms := <-output:
			for _, m := range ms {
				logger.WithFields(logrus.Fields{
					"channel": m.Channel(),
					"data":    m.Data(),
				}).Info()
			}
		}
	}
}
