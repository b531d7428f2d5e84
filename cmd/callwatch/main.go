package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/callwatch/callwatch/internal/ami"
	"github.com/callwatch/callwatch/internal/billing"
	"github.com/callwatch/callwatch/internal/cdr"
	"github.com/callwatch/callwatch/internal/config"
	"github.com/callwatch/callwatch/internal/engine"
	"github.com/callwatch/callwatch/internal/presence"
	"github.com/callwatch/callwatch/internal/publisher"
	"github.com/callwatch/callwatch/internal/reconcile"
	"github.com/callwatch/callwatch/internal/snapshot"
)

func main() {
	configPath := flag.String("config", "/etc/callwatch/callwatch.yaml", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		QoS:      1,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to MQTT")
	}
	defer pub.Close()
	log.Info().Str("broker", cfg.MQTT.Broker).Msg("connected to MQTT broker")

	store, err := cdr.NewPostgres(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to Postgres")
	}
	defer store.Close()
	log.Info().Msg("connected to CDR store")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	registry := presence.NewRedisRegistry(redisClient)

	billingSvc := billing.New(
		billing.NewPostgresTrunks(store.Pool()),
		billing.NewPostgresLedger(store.Pool()),
	)

	refresher := &queueRefresher{}

	eng := engine.New(engine.Config{
		BroadcastInterval:    cfg.Engine.BroadcastInterval(),
		QueueRefreshInterval: cfg.Engine.QueueRefreshInterval(),
		ReconcileBuffer:      cfg.Engine.ReconcileBuffer,
	}, reconcile.New(store), billingSvc, refresher)

	builder := snapshot.NewBuilder(eng, eng, store, registry, cfg.Engine.AgentExtensions)
	topic := cfg.MQTT.TopicPrefix + "/snapshot"
	eng.AttachBroadcaster(snapshot.NewBroadcaster(builder, pub, topic))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Run(ctx); err != nil {
			log.Error().Err(err).Msg("engine stopped")
		}
	}()

	runFeed(ctx, cfg, eng, refresher)

	cancel()
	wg.Wait()
	log.Info().Msg("shutdown complete")
}

// runFeed keeps an AMI session alive until ctx is cancelled, reconnecting
// with a fixed backoff.
func runFeed(ctx context.Context, cfg *config.Config, eng *engine.Engine, refresher *queueRefresher) {
	for {
		err := runSession(ctx, cfg, eng, refresher)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("AMI session error, reconnecting in 5s")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
		}
	}
}

func runSession(ctx context.Context, cfg *config.Config, eng *engine.Engine, refresher *queueRefresher) error {
	addr := cfg.AMI.Addr()
	log.Info().Str("addr", addr).Msg("connecting to AMI")

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dial AMI: %w", err)
	}
	defer conn.Close()

	// Close connection when context is cancelled
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)

	banner, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading AMI banner: %w", err)
	}
	log.Debug().Str("banner", strings.TrimSpace(banner)).Msg("AMI banner")

	loginCmd := fmt.Sprintf("Action: Login\r\nUsername: %s\r\nSecret: %s\r\n\r\n", cfg.AMI.Username, cfg.AMI.Secret)
	if _, err := conn.Write([]byte(loginCmd)); err != nil {
		return fmt.Errorf("sending login: %w", err)
	}

	refresher.attach(conn)
	defer refresher.detach(conn)

	// Prime queue state immediately rather than waiting for the first tick.
	if err := refresher.RequestQueueSnapshot(ctx); err != nil {
		log.Warn().Err(err).Msg("initial queue snapshot request failed")
	}

	log.Info().Msg("AMI authenticated, processing events")

	parser := ami.NewParser(reader)
	for {
		evt, ok := parser.Next()
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("AMI connection closed")
		}
		eng.Submit(evt)
	}
}

// queueRefresher issues fire-and-forget queue state actions on whichever
// AMI connection is currently live. The responses come back on the event
// stream like any other events.
type queueRefresher struct {
	mu   sync.Mutex
	conn net.Conn
}

func (r *queueRefresher) attach(conn net.Conn) {
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
}

func (r *queueRefresher) detach(conn net.Conn) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
}

func (r *queueRefresher) RequestQueueSnapshot(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return fmt.Errorf("no AMI connection")
	}
	if _, err := r.conn.Write([]byte("Action: QueueStatus\r\n\r\nAction: QueueSummary\r\n\r\n")); err != nil {
		return fmt.Errorf("requesting queue state: %w", err)
	}
	return nil
}
