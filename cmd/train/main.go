package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/logrusorgru/aurora"
	"github.com/sirupsen/logrus"

	"solar-pump-rl/internal/rl"
	"solar-pump-rl/internal/simulator"
	"solar-pump-rl/internal/visualize"
	"solar-pump-rl/pkg/config"
	"solar-pump-rl/pkg/logger"
	"solar-pump-rl/pkg/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE_PATH"), "path to the configuration file")
	episodes := flag.Int("episodes", 0, "number of simulated days (default from config)")
	fresh := flag.Bool("fresh", false, "ignore any saved Q-table and start empty")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	cfg := config.GetConfig()
	if *episodes <= 0 {
		*episodes = cfg.Simulator.Episodes
	}

	runID := uuid.New()
	logger.Initialize(&cfg.Logging, logrus.Fields{"run_id": runID.String()})
	if err := config.CreateDirectories(&cfg); err != nil {
		logger.GetLogger().Fatalf("Failed to create directories: %v", err)
	}

	logger.GetLogger().Infof("Starting training for %d episodes", *episodes)

	tableStorage := storage.NewQTableStorage(&cfg.ModelPersistence)
	snap := storage.Snapshot{Table: rl.NewQTable(), ExplorationRate: cfg.RL.ExplorationRate}
	if !*fresh {
		snap = tableStorage.LoadOrEmpty(cfg.RL.ExplorationRate)
	}

	agent := rl.NewAgent(cfg.RL, snap.Table)
	agent.SetExplorationRate(snap.ExplorationRate)

	trainer := simulator.NewTrainer(
		cfg.Simulator,
		agent,
		rl.NewDiscretizer(cfg.RL.StateDiscretization),
		rl.NewRewardModel(cfg.Reward),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	summaries, err := trainer.Run(ctx, *episodes)
	if err != nil {
		logger.GetLogger().Errorf("Training stopped early: %v", err)
	}

	traces := make([]visualize.Series, 0, len(summaries))
	for _, s := range summaries {
		printSummary(s)
		traces = append(traces, visualize.Series{Name: fmt.Sprintf("day %d", s.Episode), Values: s.TankTrace})
	}

	if len(traces) > 0 && cfg.Simulator.LogDir != "" {
		chartPath := filepath.Join(cfg.Simulator.LogDir, fmt.Sprintf("training_%s.html", runID))
		if err := writeChart(chartPath, traces); err != nil {
			logger.GetLogger().Warnf("Failed to write training chart: %v", err)
		}
	}

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer saveCancel()
	final := storage.Snapshot{Table: agent.QTable(), ExplorationRate: agent.ExplorationRate()}
	if err := tableStorage.Save(saveCtx, final); err != nil {
		logger.GetLogger().Fatalf("Failed to save trained Q-table: %v", err)
	}

	fmt.Println(aurora.Bold(aurora.Green(fmt.Sprintf("Saved %d states to %s (exploration rate %.4f)",
		agent.QTable().Len(), tableStorage.Path(), agent.ExplorationRate()))))
}

func printSummary(s simulator.EpisodeSummary) {
	reward := aurora.Green(fmt.Sprintf("%.2f", s.TotalReward))
	if s.TotalReward < 0 {
		reward = aurora.Red(fmt.Sprintf("%.2f", s.TotalReward))
	}
	fmt.Printf("%s Final Tank Temp: %s | Reward: %s (mean %.3f, std %.3f) | Pump runtime steps: %d/%d\n",
		aurora.Cyan(fmt.Sprintf("[Episode %d]", s.Episode)),
		aurora.Yellow(fmt.Sprintf("%.2f°C", s.FinalTankTemp)),
		reward,
		s.MeanReward, s.StdReward,
		s.PumpRuntimeSteps, s.Steps,
	)
}

func writeChart(path string, traces []visualize.Series) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return visualize.RenderLines(f, "Simulated tank temperature", "°C", traces...)
}
