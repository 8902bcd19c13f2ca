package simulator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"solar-pump-rl/internal/rl"
	"solar-pump-rl/pkg/config"
	"solar-pump-rl/pkg/logger"
)

// EpisodeSummary describes one simulated day
type EpisodeSummary struct {
	Episode          int
	Steps            int
	FinalTankTemp    float64
	TotalReward      float64
	MeanReward       float64
	StdReward        float64
	PumpRuntimeSteps int
	LogPath          string
	TankTrace        []float64
}

// Trainer runs simulated days against an agent
type Trainer struct {
	config  config.SimulatorConfig
	agent   *rl.Agent
	encoder StateEncoder
	reward  RewardCalculator
	date    time.Time
}

// NewTrainer creates a trainer learning into agent
func NewTrainer(cfg config.SimulatorConfig, agent *rl.Agent, encoder StateEncoder, reward RewardCalculator) *Trainer {
	return &Trainer{
		config:  cfg,
		agent:   agent,
		encoder: encoder,
		reward:  reward,
		date:    time.Date(2024, time.June, 21, 0, 0, 0, 0, time.UTC),
	}
}

// Run plays episodes days, stopping early if ctx is cancelled
func (t *Trainer) Run(ctx context.Context, episodes int) ([]EpisodeSummary, error) {
	if t.config.LogDir != "" {
		if err := os.MkdirAll(t.config.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	summaries := make([]EpisodeSummary, 0, episodes)
	for ep := 1; ep <= episodes; ep++ {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}
		summary, err := t.RunEpisode(ep)
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// RunEpisode plays one day. The first step runs OFF without learning since
// there is no prior state; later steps decide, step and update.
func (t *Trainer) RunEpisode(episode int) (EpisodeSummary, error) {
	env := NewEnv(t.config, t.encoder, t.reward, t.date, t.config.Seed+int64(episode))
	summary := EpisodeSummary{Episode: episode}

	var log *EpisodeLog
	if t.config.LogDir != "" {
		summary.LogPath = filepath.Join(t.config.LogDir, fmt.Sprintf("sim_day_%d.csv", episode))
		f, err := os.Create(summary.LogPath)
		if err != nil {
			return summary, fmt.Errorf("failed to create episode log: %w", err)
		}
		defer f.Close()
		if log, err = NewEpisodeLog(f); err != nil {
			return summary, err
		}
	}

	var (
		rewards  []float64
		state    rl.StateKey
		hasState bool
		done     bool
	)
	for !done {
		action := rl.ActionOff
		if hasState {
			action, _ = t.agent.DecideAction(state)
		}

		next, reward, finished, info := env.Step(action)
		if hasState {
			t.agent.Update(state, action, reward, next)
		}
		state, hasState, done = next, true, finished

		rewards = append(rewards, reward)
		summary.TotalReward += reward
		if action == rl.ActionOn {
			summary.PumpRuntimeSteps++
		}
		summary.TankTrace = append(summary.TankTrace, info.TankTemp)

		if log != nil {
			if err := log.Write(info); err != nil {
				return summary, fmt.Errorf("failed to write episode log: %w", err)
			}
		}
	}

	if log != nil {
		if err := log.Flush(); err != nil {
			return summary, fmt.Errorf("failed to flush episode log: %w", err)
		}
	}

	summary.Steps = len(rewards)
	summary.FinalTankTemp = env.TankTemp()
	summary.MeanReward, summary.StdReward = stat.MeanStdDev(rewards, nil)

	logger.GetLogger().WithFields(logrus.Fields{
		"episode":          episode,
		"steps":            summary.Steps,
		"final_tank_temp":  summary.FinalTankTemp,
		"total_reward":     summary.TotalReward,
		"pump_runtime":     summary.PumpRuntimeSteps,
		"exploration_rate": t.agent.ExplorationRate(),
	}).Info("Episode finished")

	return summary, nil
}
