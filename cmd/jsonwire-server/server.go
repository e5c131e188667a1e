package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/jsonwire/internal/config"
	"github.com/muurk/jsonwire/internal/discovery"
	"github.com/muurk/jsonwire/internal/logging"
	"github.com/muurk/jsonwire/internal/presence"
	"github.com/muurk/jsonwire/internal/server"
	"github.com/muurk/jsonwire/internal/version"
)

// Server command flags. Only flags that were set override the config file.
var (
	host            string
	port            int
	receiveTimeout  time.Duration
	sendTimeout     time.Duration
	logLevel        string
	httpAddr        string
	enableWebSocket bool
	presenceBackend string
	advertise       bool
	advertisedAs    string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the TCP server",
	Long: `Start the jsonwire server and accept client connections.

Configuration is read from defaults, then the config file, then JSONWIRE_*
environment variables, then flags. While the server runs, changes to
log.level in the config file are applied without a restart.

Connections that stay silent for longer than the receive timeout are
closed. Clients keep them alive by sending any document, for example
{"type":"ping"}.`,
	Example: `  # Start on the default port (6000)
  jsonwire-server server

  # Custom port with verbose logging
  jsonwire-server server --port 7000 --log-level debug

  # Accept WebSocket clients on http://127.0.0.1:6080/ws as well
  jsonwire-server server --websocket

  # Share presence between instances through Redis
  JSONWIRE_PRESENCE_REDIS_ADDR=redis:6379 jsonwire-server server --presence redis

  # Advertise over mDNS as "lab"
  jsonwire-server server --advertise --instance lab`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&host, "host", "", "Listen host (empty = all interfaces)")
	serverCmd.Flags().IntVar(&port, "port", 6000, "Listen port")
	serverCmd.Flags().DurationVar(&receiveTimeout, "receive-timeout", 10*time.Second, "Close connections idle for this long")
	serverCmd.Flags().DurationVar(&sendTimeout, "send-timeout", 10*time.Second, "Per-reply write timeout")
	serverCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	serverCmd.Flags().StringVar(&httpAddr, "http-addr", "127.0.0.1:6080", "HTTP listener for /healthz, /status and the gateway (empty = disabled)")
	serverCmd.Flags().BoolVar(&enableWebSocket, "websocket", false, "Enable the WebSocket gateway on the HTTP listener")
	serverCmd.Flags().StringVar(&presenceBackend, "presence", "memory", "Presence backend (memory, redis, sql)")
	serverCmd.Flags().BoolVar(&advertise, "advertise", false, "Advertise the server over mDNS")
	serverCmd.Flags().StringVar(&advertisedAs, "instance", "jsonwire", "mDNS instance name")

	rootCmd.AddCommand(serverCmd)
}

// applyFlags copies explicitly set flags over the loaded configuration
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = host
	}
	if flags.Changed("port") {
		cfg.Server.Port = port
	}
	if flags.Changed("receive-timeout") {
		cfg.Server.ReceiveTimeout = receiveTimeout
	}
	if flags.Changed("send-timeout") {
		cfg.Server.SendTimeout = sendTimeout
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("http-addr") {
		cfg.HTTP.Addr = httpAddr
	}
	if flags.Changed("websocket") {
		cfg.WebSocket.Enabled = enableWebSocket
	}
	if flags.Changed("presence") {
		cfg.Presence.Backend = presenceBackend
	}
	if flags.Changed("advertise") {
		cfg.Discovery.Advertise = advertise
	}
	if flags.Changed("instance") {
		cfg.Discovery.Instance = advertisedAs
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Console:    cfg.Log.Console,
		Dir:        cfg.Log.Dir,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := presence.New(ctx, cfg.Presence)
	if err != nil {
		return fmt.Errorf("failed to open presence store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close presence store", zap.Error(err))
		}
	}()

	// Both listeners draw from one id space so ids stay unique server-wide
	ids := &server.IDSource{}
	opts := []server.Option{
		server.WithLogger(log),
		server.WithPresence(store),
		server.WithIDSource(ids),
	}
	listenerCfg := server.ConfigFrom(cfg.Server)

	tcp, err := server.Listen(listenerCfg, cfg.Server.Addr(), opts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tcp.Run(gctx) })

	var httpPort int
	if cfg.HTTP.Addr != "" {
		httpLn, err := net.Listen("tcp", cfg.HTTP.Addr)
		if err != nil {
			// Stops the TCP listener already running in g
			stop()
			_ = g.Wait()
			return fmt.Errorf("failed to listen on %s: %w", cfg.HTTP.Addr, err)
		}
		httpPort = httpLn.Addr().(*net.TCPAddr).Port

		listeners := []*server.Listener{tcp}
		var gateway *server.WebSocketListener
		if cfg.WebSocket.Enabled {
			gateway = server.NewWebSocketListener(httpLn.Addr(), log)
			ws, err := server.NewListener(listenerCfg, gateway, append(opts, server.WithName("websocket"))...)
			if err != nil {
				_ = httpLn.Close()
				stop()
				_ = g.Wait()
				return err
			}
			listeners = append(listeners, ws)
			g.Go(func() error { return ws.Run(gctx) })
		}

		httpServer := &http.Server{
			Handler:           server.NewHTTPHandler(log, gateway, cfg.WebSocket.Path, listeners...),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info("HTTP listener started",
				zap.String("addr", httpLn.Addr().String()),
				zap.Bool("websocket", cfg.WebSocket.Enabled),
			)
			if err := httpServer.Serve(httpLn); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http listener failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if cfg.Discovery.Advertise {
		txt := []string{
			discovery.TxtVersion + "=" + version.Version,
			discovery.TxtProtocol + "=" + version.Protocol,
		}
		if cfg.WebSocket.Enabled && httpPort != 0 {
			txt = append(txt, discovery.TxtWebSocket+"="+strconv.Itoa(httpPort)+cfg.WebSocket.Path)
		}
		tcpPort := tcp.Addr().(*net.TCPAddr).Port

		g.Go(func() error {
			log.Info("Advertising over mDNS",
				zap.String("instance", cfg.Discovery.Instance),
				zap.String("service", discovery.ServiceType),
				zap.Int("port", tcpPort),
			)
			// Discovery is a convenience; the server keeps running without it
			if err := discovery.Advertise(gctx, cfg.Discovery.Instance, tcpPort, txt...); err != nil {
				log.Warn("mDNS advertisement failed", zap.Error(err))
			}
			return nil
		})
	}

	loader.Watch(func(updated *config.Config, err error) {
		if err != nil {
			log.Warn("Ignoring invalid configuration change", zap.Error(err))
			return
		}
		if !log.SetLevel(updated.Log.Level) {
			fmt.Fprintf(os.Stderr, "log level %q not applied: no console or file log is configured\n", updated.Log.Level)
		}
		log.Info("Configuration reloaded",
			zap.String("file", loader.File()),
			zap.String("log_level", updated.Log.Level),
		)
	})

	log.Info("jsonwire server running",
		zap.String("version", version.Version),
		zap.String("protocol", version.Protocol),
		zap.String("addr", tcp.Addr().String()),
		zap.String("presence", cfg.Presence.Backend),
		zap.String("config_file", loader.File()),
	)

	err = g.Wait()
	log.Info("jsonwire server stopped")
	return err
}
