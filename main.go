package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"

	"support-console/internal/config"
	"support-console/internal/console"
	"support-console/internal/gateway"
	"support-console/internal/rabbitmq"
	"support-console/internal/telemetry"
	"support-console/internal/transport"
)

func main() {
	configPath := flag.String("conf", "", "path to config file (empty reads environment only)")
	flag.Parse()

	conf := config.MustLoad(*configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := setupTracing(ctx, conf.Otel.Endpoint)
	defer shutdownTracing()

	publisher := rabbitmq.NewPublisher(conf.AMQP.URL, conf.AMQP.Exchange)
	defer publisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(publisher))

	emitter := telemetry.NewActionEmitter(publisher, conf.AMQP.RoutingKey, conf.Operator.ID, conf.Env)
	gw := gateway.NewHTTPClient(conf.Gateway.BaseURL, conf.Operator.Token, conf.GatewayRequestTimeout())

	header := http.Header{}
	if conf.Operator.Token != "" {
		header.Set("Authorization", "Bearer "+conf.Operator.Token)
	}
	chatConn := transport.NewConn(transport.Options{
		URL:              conf.Gateway.ChatWSURL,
		Header:           header,
		Kind:             "chat",
		ReconnectDelay:   conf.ReconnectDelay(),
		MaxAttempts:      conf.Transport.MaxReconnectAttempts,
		HandshakeTimeout: conf.HandshakeTimeout(),
	})
	notifyConn := transport.NewConn(transport.Options{
		URL:              conf.Gateway.NotifyWSURL,
		Header:           header,
		Kind:             "notify",
		ReconnectDelay:   conf.ReconnectDelay(),
		MaxAttempts:      conf.Transport.MaxReconnectAttempts,
		HandshakeTimeout: conf.HandshakeTimeout(),
	})

	core := console.New(gw, chatConn, notifyConn, emitter, console.Options{
		OperatorID:      conf.Operator.ID,
		Environment:     conf.Env,
		SessionRefresh:  conf.SessionRefreshInterval(),
		TimeoutPoll:     conf.TimeoutPollInterval(),
		MessagePoll:     conf.MessagePollInterval(),
		PostSendRecheck: conf.PostSendRecheckDelay(),
		BannerTTL:       conf.BannerTTL(),
	})
	if err := core.Start(ctx); err != nil {
		log.Fatalf("failed to start console core: %v", err)
	}
	defer core.Close()

	go func() {
		for ev := range core.Events() {
			log.Printf("console event type=%s chat_id=%s state=%s", ev.Type, ev.ChatID, ev.State)
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connection": string(core.ConnectionState())})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	registerDebugRoutes(router, emitter, conf.Listen.DebugRoutes)

	srv := &http.Server{Addr: conf.Listen.Addr, Handler: router}
	go func() {
		log.Printf("ops server listening on %s", conf.Listen.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ops server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// registerDebugRoutes wires debug-only endpoints.
func registerDebugRoutes(router *gin.Engine, emitter *telemetry.ActionEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "audit_test", "", "debug endpoint")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func setupTracing(ctx context.Context, endpoint string) func() {
	if endpoint == "" {
		return func() {}
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		log.Printf("otlp exporter disabled: %v", err)
		return func() {}
	}
	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(semconv.ServiceName("support-console")))
	if err != nil {
		res = sdkresource.Default()
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}
}
