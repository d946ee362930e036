package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/meek/pkg/api"
	"github.com/cuemby/meek/pkg/bus"
	"github.com/cuemby/meek/pkg/cache"
	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/dispatch"
	"github.com/cuemby/meek/pkg/health"
	"github.com/cuemby/meek/pkg/ingest"
	"github.com/cuemby/meek/pkg/log"
	"github.com/cuemby/meek/pkg/modelsync"
	"github.com/cuemby/meek/pkg/queue"
	"github.com/cuemby/meek/pkg/registry"
	"github.com/cuemby/meek/pkg/retryqueue"
	"github.com/cuemby/meek/pkg/router"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/streammonitor"
	"github.com/cuemby/meek/pkg/taskstate"
)

// defaultQueueCapacity bounds the in-memory priority queue between the
// bus subscription callbacks and the router's worker pool.
const defaultQueueCapacity = 10000

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the meek controller (bus, dispatcher, health tracker, Lifecycle API)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "meek.yaml", "path to the controller config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.WithComponent("meekctl")

	st, err := store.NewSQLiteStore(cfg.SQL.DSN, nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var redisClient *cache.Client
	if cfg.Cache.Addr != "" {
		redisClient = cache.New(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
	}

	busClient := bus.New(bus.Config{
		Host:        cfg.Broker.Host,
		Port:        cfg.Broker.Port,
		ClientID:    cfg.Broker.ClientID,
		Username:    cfg.Broker.Username,
		Password:    cfg.Broker.Password,
		QoS:         cfg.Broker.QoS,
		TopicPrefix: cfg.Topic.Prefix,
	})
	if err := busClient.Connect(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer busClient.Disconnect()

	q := queue.New(defaultQueueCapacity)
	r := router.New(q, router.Config{})

	reg := registry.New(st, redisClient)
	taskState := taskstate.New(st, redisClient, cfg.TaskState)
	dispatcher := dispatch.New(st, reg, busClient, taskState, cfg.Dispatch, cfg.Topic.Prefix)
	healthTracker := health.New(st, reg, dispatcher, taskState, cfg.Health)
	retryQueue := retryqueue.New(st, taskState, dispatcher, redisClient, cfg.Retry)
	ingester := ingest.New(st, taskState, dispatcher, cfg.Topic.Prefix)
	streamMonitor := streammonitor.New(st, cfg.Stream)
	modelSyncer := modelsync.New(st, cfg.ModelSync)

	r.Handle(connectionTopic(cfg.Topic.Prefix), func(_ string, payload []byte) {
		if err := reg.HandleConnection(context.Background(), payload); err != nil {
			logger.Error().Err(err).Msg("handle connection message")
		}
	})
	r.HandleWildcard(statusTopicPattern(cfg.Topic.Prefix), func(_ string, payload []byte) {
		if err := reg.HandleHeartbeat(context.Background(), payload); err != nil {
			logger.Error().Err(err).Msg("handle heartbeat message")
		}
	})
	r.Handle(replyTopic(cfg.Topic.Prefix), dispatcher.HandleReply)
	r.HandleWildcard(resultTopicPattern(cfg.Topic.Prefix), ingester.HandleResult)

	if err := subscribeBusToQueue(busClient, q, cfg.Topic.Prefix); err != nil {
		return fmt.Errorf("subscribe to broker topics: %w", err)
	}

	apiServer := api.New(st, reg, dispatcher, retryQueue, ingester, taskState, modelSyncer, cfg.HTTP, cfg.ModelSync)

	r.Start()
	taskState.Start()
	healthTracker.Start()
	retryQueue.Start()
	streamMonitor.Start()
	modelSyncer.Start()

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info().Str("http", cfg.HTTP.Listen).Str("broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port)).Msg("meek controller running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("lifecycle API server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("lifecycle API shutdown")
	}
	modelSyncer.Stop()
	streamMonitor.Stop()
	retryQueue.Stop()
	healthTracker.Stop()
	taskState.Stop()
	r.Stop()

	return nil
}

// connectionTopic, statusTopicPattern, replyTopic and resultTopicPattern
// mirror pkg/bus's unexported topic layout (spec.md §6) for the
// controller's own subscriptions.
func connectionTopic(prefix string) string {
	return prefix + "/connection"
}

func statusTopicPattern(prefix string) string {
	return prefix + "/+/status"
}

func replyTopic(prefix string) string {
	return prefix + "/device_config_reply"
}

func resultTopicPattern(prefix string) string {
	return prefix + "/+/result"
}

// subscribeBusToQueue wires every topic the controller cares about into
// the priority queue the router drains, mapping each to the priority
// level spec.md §4.2 assigns it: level 1 for connection state, level 3
// for replies and results, level 5 (the default) for everything else,
// namely heartbeats.
func subscribeBusToQueue(c *bus.Client, q *queue.Queue, prefix string) error {
	patterns := []string{
		connectionTopic(prefix),
		statusTopicPattern(prefix),
		replyTopic(prefix),
		resultTopicPattern(prefix),
	}
	for _, pattern := range patterns {
		if err := c.Subscribe(pattern, func(topic string, payload []byte) {
			q.Push(queue.Envelope{
				Priority: topicPriority(topic, prefix),
				Arrival:  time.Now(),
				Topic:    topic,
				Payload:  payload,
			})
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", pattern, err)
		}
	}
	return nil
}

// topicPriority implements spec.md §4.2's priority table.
func topicPriority(topic, prefix string) int {
	suffix := strings.TrimPrefix(topic, prefix+"/")
	switch {
	case suffix == "connection":
		return 1
	case suffix == "device_config_reply":
		return 3
	case strings.HasSuffix(suffix, "/result"):
		return 3
	case strings.HasSuffix(suffix, "/status"):
		return 5
	default:
		return 5
	}
}
