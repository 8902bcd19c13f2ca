package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"solar-pump-rl/internal/controller"
	"solar-pump-rl/internal/rl"
	"solar-pump-rl/internal/telemetry"
	"solar-pump-rl/internal/transport"
	"solar-pump-rl/internal/visualize"
	"solar-pump-rl/internal/weather"
	"solar-pump-rl/pkg/config"
	"solar-pump-rl/pkg/logger"
	"solar-pump-rl/pkg/metrics"
	"solar-pump-rl/pkg/server"
	"solar-pump-rl/pkg/storage"
)

func main() {
	if err := config.LoadConfig(os.Getenv("CONFIG_FILE_PATH")); err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	cfg := config.GetConfig()

	logger.Initialize(&cfg.Logging, logrus.Fields{"controller_id": cfg.MQTT.ClientID})
	logger.GetLogger().Info("Starting solar pump controller...")

	if err := config.CreateDirectories(&cfg); err != nil {
		logger.GetLogger().Fatalf("Failed to create directories: %v", err)
	}

	// Q-table
	tableStorage := storage.NewQTableStorage(&cfg.ModelPersistence)
	snap := tableStorage.LoadOrEmpty(cfg.RL.ExplorationRate)
	agent := rl.NewAgent(cfg.RL, snap.Table)
	agent.SetExplorationRate(snap.ExplorationRate)

	// Health
	healthServer := server.NewHealthServer(&cfg.GRPC)
	if err := healthServer.Start(); err != nil {
		logger.GetLogger().Fatalf("Failed to start health server: %v", err)
	}

	// Collaborators
	promMetrics := metrics.NewPrometheusMetrics(prometheus.DefaultRegisterer)

	var publisher controller.DecisionPublisher
	var kafkaPublisher *telemetry.KafkaPublisher
	if cfg.Telemetry.Kafka.Enabled {
		kafkaPublisher = telemetry.NewKafkaPublisher(cfg.Telemetry.Kafka, cfg.MQTT.ClientID)
		publisher = kafkaPublisher
		logger.GetLogger().Infof("Publishing decisions to Kafka topic %s", cfg.Telemetry.Kafka.Topic)
	}

	var ctrl *controller.Controller
	mqttClient := transport.NewMQTTClient(cfg.MQTT, func(payload []byte) {
		if err := ctrl.Submit(payload); err != nil && !errors.Is(err, controller.ErrQueueFull) {
			logger.GetLogger().Warnf("Failed to queue reading: %v", err)
		}
	})

	ctrl, err := controller.New(cfg, agent, controller.Options{
		Weather:   weather.NewClient(cfg.Weather),
		Actuator:  mqttClient,
		Saver:     tableStorage,
		Recorder:  promMetrics,
		Publisher: publisher,
		Renderer:  visualize.NewHistoryChart(cfg.Controller.PlotDir),
	})
	if err != nil {
		logger.GetLogger().Fatalf("Failed to create controller: %v", err)
	}
	promMetrics.SetLearnerState(agent.ExplorationRate(), agent.QTable().Len())

	metricsServer := metrics.NewMetricsServer(&cfg.Metrics, promMetrics, prometheus.DefaultGatherer,
		func() interface{} { return ctrl.Status() },
		func() interface{} { return ctrl.History() },
	)
	if err := metricsServer.Start(); err != nil {
		logger.GetLogger().Fatalf("Failed to start metrics server: %v", err)
	}

	config.WatchConfig(ctrl.Reload)

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() { loopDone <- ctrl.Run(ctx) }()

	if err := mqttClient.Connect(); err != nil {
		logger.GetLogger().Fatalf("Failed to connect to MQTT: %v", err)
	}
	healthServer.SetServing(true)

	// Setup graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	loopExited := false
	select {
	case sig := <-sigCh:
		logger.GetLogger().Infof("Received signal: %v", sig)
	case err := <-loopDone:
		logger.GetLogger().Errorf("Controller loop exited: %v", err)
		loopExited = true
	}

	healthServer.SetServing(false)
	mqttClient.Disconnect(250 * time.Millisecond)
	cancel()
	if !loopExited {
		<-loopDone
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GRPC.ShutdownTimeout)
	defer shutdownCancel()

	if err := tableStorage.Save(shutdownCtx, ctrl.Snapshot()); err != nil {
		logger.GetLogger().Errorf("Failed to save Q-table on shutdown: %v", err)
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.GetLogger().Errorf("Failed to close decision publisher: %v", err)
		}
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.GetLogger().Errorf("Failed to stop metrics server: %v", err)
	}
	healthServer.Stop(shutdownCtx)

	logger.GetLogger().Info("Solar pump controller stopped")
}
