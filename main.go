package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lydianai/otoail.ailydian.com-sub005/config"
	"github.com/lydianai/otoail.ailydian.com-sub005/domain"
	"github.com/lydianai/otoail.ailydian.com-sub005/firehose"
	"github.com/lydianai/otoail.ailydian.com-sub005/hub"
	"github.com/lydianai/otoail.ailydian.com-sub005/ingest"
	"github.com/lydianai/otoail.ailydian.com-sub005/metrics"
	"github.com/lydianai/otoail.ailydian.com-sub005/protocol"
	ws "github.com/lydianai/otoail.ailydian.com-sub005/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	setupLogger()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	metrics.Init()

	relay := hub.New()

	var sink domain.Sink
	if cfg.KafkaEnabled() {
		k := firehose.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer k.Close()
		sink = k
		slog.Info("kafka firehose enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	handler := protocol.NewHandler(relay, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go relay.RunStats(ctx, cfg.StatsInterval)

	if cfg.MQTTEnabled() {
		bridge := ingest.New(ingest.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			QoS:       cfg.MQTTQoS,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
		}, relay, handler)
		go bridge.Run(ctx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(relay, handler))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/stats", statsHandler(relay))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		slog.Info("relay starting", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("relay shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func wsHandler(relay *hub.Hub, handler *protocol.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}

		wsConn := ws.NewConn(uuid.New().String(), conn, relay, handler)
		wsConn.Start()
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statsHandler(relay *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vehicles, clients := relay.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"vehicles": vehicles, "clients": clients})
	}
}
