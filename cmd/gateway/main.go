package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/gateway/internal/adminstream"
	"github.com/ocx/gateway/internal/bufpool"
	"github.com/ocx/gateway/internal/clock"
	"github.com/ocx/gateway/internal/codec"
	"github.com/ocx/gateway/internal/config"
	"github.com/ocx/gateway/internal/connection"
	"github.com/ocx/gateway/internal/connmgr"
	"github.com/ocx/gateway/internal/controllers"
	"github.com/ocx/gateway/internal/dispatcher"
	"github.com/ocx/gateway/internal/events"
	"github.com/ocx/gateway/internal/firewall"
	"github.com/ocx/gateway/internal/lz4"
	"github.com/ocx/gateway/internal/metrics"
)

func main() {
	cfg := config.Get()
	slog.Info("ocx gateway starting", "listen_addr", cfg.Server.ListenAddr)

	pool := bufpool.New(cfg.Server.MaxBufferBytes)
	mtr := metrics.New()
	mgr := connmgr.New(slog.Default())
	hub := adminstream.New(slog.Default())

	d := dispatcher.New()
	handshakeTO := time.Duration(cfg.Handshake.TimeoutSec) * time.Second
	if _, err := controllers.NewHandshakeController(d, pool, clock.Default, slog.Default(), handshakeTO); err != nil {
		log.Fatalf("failed to register handshake controller: %v", err)
	}
	if _, err := controllers.NewKeepAliveController(d, pool, clock.Default, slog.Default()); err != nil {
		log.Fatalf("failed to register keepalive controller: %v", err)
	}

	lim, err := firewall.New(firewall.Limits{
		BytesPerSecond: cfg.Firewall.DownloadBytesPerSecond,
		BurstSlots:     cfg.Firewall.BurstSlots,
	})
	if err != nil {
		log.Fatalf("failed to construct firewall limiter: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	stopHub := make(chan struct{})
	go hub.Run(stopHub)

	listener, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", cfg.Server.ListenAddr, err)
	}

	go acceptLoop(shutdownCtx, listener, pool, cfg, mtr, mgr, hub, d, lim)

	var adminServer *http.Server
	if cfg.Admin.Enabled {
		adminServer = newAdminServer(cfg, mtr, mgr, hub)
		go func() {
			slog.Info("admin server starting", "listen_addr", cfg.Admin.ListenAddr)
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("admin server failed", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("received shutdown signal, shutting down gracefully")
	shutdownCancel()
	close(stopHub)
	listener.Close()
	mgr.DisposeAll()

	if adminServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := adminServer.Shutdown(ctx); err != nil {
			slog.Error("admin server shutdown error", "error", err)
		}
	}

	slog.Info("gateway stopped")
}

func acceptLoop(ctx context.Context, listener net.Listener, pool *bufpool.Pool, cfg *config.Config, mtr *metrics.Metrics, mgr *connmgr.Manager, hub *adminstream.Hub, d *dispatcher.Dispatcher, lim *firewall.Limiter) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				slog.Warn("accept failed", "error", err)
				continue
			}
		}
		mtr.ConnectionsTotal.Inc()
		go handleConn(ctx, conn, pool, cfg, mtr, mgr, hub, d, lim)
	}
}

func handleConn(ctx context.Context, netConn net.Conn, pool *bufpool.Pool, cfg *config.Config, mtr *metrics.Metrics, mgr *connmgr.Manager, hub *adminstream.Hub, d *dispatcher.Dispatcher, lim *firewall.Limiter) {
	adminCh := make(chan events.Event, 64)
	c := connection.New(connection.Config{
		Conn:        netConn,
		Pool:        pool,
		MaxFrame:    cfg.Server.MaxFrameBytes,
		Clock:       clock.Default,
		Logger:      slog.Default(),
		Limiter:     lim,
		Subscribers: []chan events.Event{adminCh},
	})
	mgr.Add(c)
	mtr.ConnectionsActive.Inc()
	defer func() {
		mgr.Remove(c.ID)
		mtr.ConnectionsActive.Dec()
		c.Dispose()
	}()

	go drainEvents(adminCh, hub, d, c, lim, mtr, pool, cfg)

	if err := c.Run(ctx); err != nil {
		slog.Debug("connection run ended", "conn_id", c.ID, "error", err)
	}
}

// drainEvents pops dispatch-ready events off the connection's bus and runs
// them through the dispatcher, while forwarding every event to the admin
// stream for observability.
func drainEvents(ch <-chan events.Event, hub *adminstream.Hub, d *dispatcher.Dispatcher, c *connection.Connection, lim *firewall.Limiter, mtr *metrics.Metrics, pool *bufpool.Pool, cfg *config.Config) {
	for ev := range ch {
		hub.Publish(ev)
		if ev.Kind != events.Process {
			continue
		}
		payload, ok := c.PopIncoming()
		if !ok {
			continue
		}
		go dispatchPayload(d, c, payload, lim, mtr, pool, cfg)
	}
}

func dispatchPayload(d *dispatcher.Dispatcher, c *connection.Connection, payload []byte, lim *firewall.Limiter, mtr *metrics.Metrics, pool *bufpool.Pool, cfg *config.Config) {
	pkt, err := decodePayload(payload)
	if err != nil {
		slog.Warn("dropping malformed frame", "conn_id", c.ID, "error", err)
		return
	}

	if !codec.IsValid(pkt) {
		slog.Warn("dropping frame with bad checksum", "conn_id", c.ID, "opcode", pkt.Header.ID)
		return
	}
	if codec.IsExpired(pkt, clock.Default.UnixMilliNow(), uint64(cfg.Server.FrameExpiryMsecs)) {
		slog.Warn("dropping expired frame", "conn_id", c.ID, "opcode", pkt.Header.ID)
		return
	}

	if pkt.Header.Flags.Has(codec.FlagCompressed) {
		ok, decoded, n := lz4.DecompressToOwned(pkt.Payload)
		if !ok {
			slog.Warn("dropping frame with malformed compressed payload", "conn_id", c.ID, "opcode", pkt.Header.ID)
			return
		}
		pkt.Payload = decoded[:n]
		pkt.Header.Flags &^= codec.FlagCompressed
	}

	start := time.Now()
	reply, err := d.Dispatch(context.Background(), c, pkt, lim)
	mtr.DispatchDuration.WithLabelValues(opcodeLabel(pkt.Header.ID)).Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("dispatch failed", "conn_id", c.ID, "opcode", pkt.Header.ID, "error", err)
		return
	}
	if reply == nil {
		return
	}
	reply = compressReply(reply, pool)
	if _, err := c.Send(reply); err != nil {
		slog.Warn("reply send failed", "conn_id", c.ID, "error", err)
	}
}

func decodePayload(payload []byte) (*codec.Packet, error) {
	return codec.Decode(payload)
}

// compressReply attempts to shrink an encoded reply frame with LZ4 before it
// goes out the wire. Replies too small to benefit, or that LZ4 cannot shrink,
// are returned unchanged. On any failure to re-decode or re-encode, the
// original frame is returned rather than dropped.
func compressReply(frame []byte, pool *bufpool.Pool) []byte {
	pkt, err := codec.Decode(frame)
	if err != nil {
		return frame
	}
	if len(pkt.Payload) == 0 {
		return frame
	}

	bound := lz4.CompressBound(len(pkt.Payload))
	out := make([]byte, bound)
	n := lz4.Compress(pkt.Payload, out)
	if n < 0 || n >= len(pkt.Payload) {
		return frame
	}

	pkt.Payload = out[:n]
	pkt.Header.Flags |= codec.FlagCompressed
	pkt.Header.Checksum = codec.CRC32(pkt.Payload)

	encoded, err := codec.Encode(pkt, pool)
	if err != nil {
		return frame
	}
	return encoded
}

func opcodeLabel(opcode uint16) string {
	return strconv.FormatUint(uint64(opcode), 10)
}

func newAdminServer(cfg *config.Config, mtr *metrics.Metrics, mgr *connmgr.Manager, hub *adminstream.Hub) *http.Server {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods("GET")

	router.Handle("/metrics", promhttp.HandlerFor(mtr.Registry, promhttp.HandlerOpts{})).Methods("GET")

	router.HandleFunc("/debug/connections", func(w http.ResponseWriter, r *http.Request) {
		type connInfo struct {
			ID             string `json:"id"`
			RemoteEndpoint string `json:"remote_endpoint"`
			State          string `json:"state"`
		}
		infos := make([]connInfo, 0, mgr.Len())
		mgr.Range(func(c *connection.Connection) {
			infos = append(infos, connInfo{ID: c.ID, RemoteEndpoint: c.RemoteEndpoint, State: c.State().String()})
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(infos)
	}).Methods("GET")

	router.HandleFunc("/ws/admin", hub.HandleWebSocket)

	return &http.Server{
		Addr:         cfg.Admin.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
