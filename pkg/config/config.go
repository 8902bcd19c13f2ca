package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds the application's configuration
type Config struct {
	Logging          LoggingConfig          `mapstructure:"logging"`
	MQTT             MQTTConfig             `mapstructure:"mqtt"`
	Weather          WeatherConfig          `mapstructure:"weather"`
	ModelPersistence ModelPersistenceConfig `mapstructure:"model_persistence"`
	Metrics          MetricsConfig          `mapstructure:"metrics"`
	GRPC             GRPCConfig             `mapstructure:"grpc"`
	Telemetry        TelemetryConfig        `mapstructure:"telemetry"`
	RL               RLConfig               `mapstructure:"rl"`
	Reward           RewardConfig           `mapstructure:"reward"`
	Guardrail        GuardrailConfig        `mapstructure:"guardrail"`
	Controller       ControllerConfig       `mapstructure:"controller"`
	Simulator        SimulatorConfig        `mapstructure:"simulator"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MQTTConfig contains broker and topic settings for the sensor/pump link
type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	SensorTopic    string        `mapstructure:"sensor_topic"`
	ControlTopic   string        `mapstructure:"control_topic"`
	QoS            int           `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
}

// WeatherConfig contains OpenWeatherMap client settings
type WeatherConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	APIKey       string        `mapstructure:"api_key"`
	Lat          float64       `mapstructure:"lat"`
	Lon          float64       `mapstructure:"lon"`
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// ModelPersistenceConfig contains Q-table persistence settings
type ModelPersistenceConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ModelName   string        `mapstructure:"model_name"`
	ModelsPath  string        `mapstructure:"models_path"`
	BackupCount int           `mapstructure:"backup_count"`
	SaveTimeout time.Duration `mapstructure:"save_timeout"`
}

// MetricsConfig contains metrics collection settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// GRPCConfig contains health-check server settings
type GRPCConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReflectionEnabled bool          `mapstructure:"reflection_enabled"`
	KeepaliveTime     time.Duration `mapstructure:"keepalive_time"`
	KeepaliveTimeout  time.Duration `mapstructure:"keepalive_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// TelemetryConfig contains decision event streaming settings
type TelemetryConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig contains Kafka writer settings
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// RLConfig contains reinforcement learning settings
type RLConfig struct {
	LearningRate        float64                   `mapstructure:"learning_rate"`
	DiscountFactor      float64                   `mapstructure:"discount_factor"`
	ExplorationRate     float64                   `mapstructure:"exploration_rate"`
	ExplorationDecay    float64                   `mapstructure:"exploration_decay"`
	MinExploration      float64                   `mapstructure:"min_exploration"`
	Seed                int64                     `mapstructure:"seed"`
	StateDiscretization StateDiscretizationConfig `mapstructure:"state_discretization"`
}

// StateDiscretizationConfig contains the ascending bin edges per state dimension
type StateDiscretizationConfig struct {
	TankTemp   []float64 `mapstructure:"tank_temp"`
	PanelDelta []float64 `mapstructure:"panel_delta"`
	SunFactor  []float64 `mapstructure:"sun_factor"`
	CloudCover []float64 `mapstructure:"cloud_cover"`
}

// RewardConfig contains reward shaping weights and safety bounds
type RewardConfig struct {
	Alpha            float64       `mapstructure:"alpha"`
	Beta             float64       `mapstructure:"beta"`
	Gamma            float64       `mapstructure:"gamma"`
	Delta            float64       `mapstructure:"delta"`
	LambdaHot        float64       `mapstructure:"lambda_hot"`
	LambdaCold       float64       `mapstructure:"lambda_cold"`
	TankMinC         float64       `mapstructure:"tank_min_c"`
	TankMaxC         float64       `mapstructure:"tank_max_c"`
	PanelDeltaCap    float64       `mapstructure:"panel_delta_cap"`
	FastSwitchWindow time.Duration `mapstructure:"fast_switch_window"`
	SlowSwitchWindow time.Duration `mapstructure:"slow_switch_window"`
}

// GuardrailConfig contains minimum dwell times per pump state
type GuardrailConfig struct {
	MinOnTime  time.Duration `mapstructure:"min_on_time"`
	MinOffTime time.Duration `mapstructure:"min_off_time"`
}

// ControllerConfig contains control loop settings
type ControllerConfig struct {
	HistorySize    int           `mapstructure:"history_size"`
	PlotEvery      int           `mapstructure:"plot_every"`
	PlotDir        string        `mapstructure:"plot_dir"`
	QueueSize      int           `mapstructure:"queue_size"`
	WeatherTimeout time.Duration `mapstructure:"weather_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	StatsWindow    int           `mapstructure:"stats_window"`
}

// SimulatorConfig contains physics simulator and trainer settings
type SimulatorConfig struct {
	Episodes          int           `mapstructure:"episodes"`
	Step              time.Duration `mapstructure:"step"`
	StartHour         int           `mapstructure:"start_hour"`
	EndHour           int           `mapstructure:"end_hour"`
	SunriseHour       int           `mapstructure:"sunrise_hour"`
	SunsetHour        int           `mapstructure:"sunset_hour"`
	InitialTankTemp   float64       `mapstructure:"initial_tank_temp"`
	AmbientTemp       float64       `mapstructure:"ambient_temp"`
	InitialCloudCover float64       `mapstructure:"initial_cloud_cover"`
	CloudStep         float64       `mapstructure:"cloud_step"`
	PanelGainMax      float64       `mapstructure:"panel_gain_max"`
	TankLossRate      float64       `mapstructure:"tank_loss_rate"`
	TankGainRate      float64       `mapstructure:"tank_gain_rate"`
	LogDir            string        `mapstructure:"log_dir"`
	Seed              int64         `mapstructure:"seed"`
}

var AppConfig Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) error {
	v := viper.GetViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/solar-pump/")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SOLARPUMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Config file not found, using defaults and environment variables")
		} else {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	AppConfig = cfg
	log.Println("Configuration loaded successfully")
	return nil
}

// Defaults returns a configuration holding only the built-in defaults.
func Defaults() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic("config: defaults do not decode: " + err.Error())
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// MQTT defaults
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "solar-pump-controller")
	v.SetDefault("mqtt.sensor_topic", "waterheater/sensor_data")
	v.SetDefault("mqtt.control_topic", "waterheater/pump_control")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.keep_alive", 60*time.Second)

	// Weather defaults
	v.SetDefault("weather.enabled", true)
	v.SetDefault("weather.api_key", "")
	v.SetDefault("weather.lat", 0.0)
	v.SetDefault("weather.lon", 0.0)
	v.SetDefault("weather.base_url", "https://api.openweathermap.org")
	v.SetDefault("weather.timeout", 5*time.Second)
	v.SetDefault("weather.max_failures", 3)
	v.SetDefault("weather.reset_timeout", 5*time.Minute)
	v.SetDefault("weather.cache_ttl", 10*time.Minute)

	// Model persistence defaults
	v.SetDefault("model_persistence.enabled", true)
	v.SetDefault("model_persistence.model_name", "solar_pump_qtable")
	v.SetDefault("model_persistence.models_path", "./models")
	v.SetDefault("model_persistence.backup_count", 3)
	v.SetDefault("model_persistence.save_timeout", 2*time.Second)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// gRPC health defaults
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 40040)
	v.SetDefault("grpc.reflection_enabled", true)
	v.SetDefault("grpc.keepalive_time", 30*time.Second)
	v.SetDefault("grpc.keepalive_timeout", 5*time.Second)
	v.SetDefault("grpc.shutdown_timeout", 10*time.Second)

	// Telemetry defaults
	v.SetDefault("telemetry.kafka.enabled", false)
	v.SetDefault("telemetry.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("telemetry.kafka.topic", "waterheater.decisions")
	v.SetDefault("telemetry.kafka.write_timeout", 2*time.Second)
	v.SetDefault("telemetry.kafka.batch_timeout", 10*time.Millisecond)

	// RL defaults
	v.SetDefault("rl.learning_rate", 0.1)
	v.SetDefault("rl.discount_factor", 0.9)
	v.SetDefault("rl.exploration_rate", 1.0)
	v.SetDefault("rl.exploration_decay", 0.995)
	v.SetDefault("rl.min_exploration", 0.01)
	v.SetDefault("rl.seed", 0)

	// State discretization defaults
	v.SetDefault("rl.state_discretization.tank_temp", []float64{25, 35, 45, 55, 65, 75, 85})
	v.SetDefault("rl.state_discretization.panel_delta", []float64{-5, 0, 3, 6})
	v.SetDefault("rl.state_discretization.sun_factor", []float64{0.25, 0.5, 0.75})
	v.SetDefault("rl.state_discretization.cloud_cover", []float64{20, 60})

	// Reward defaults
	v.SetDefault("reward.alpha", 10.0)
	v.SetDefault("reward.beta", 0.5)
	v.SetDefault("reward.gamma", 0.2)
	v.SetDefault("reward.delta", 0.5)
	v.SetDefault("reward.lambda_hot", 5.0)
	v.SetDefault("reward.lambda_cold", 1.0)
	v.SetDefault("reward.tank_min_c", 35.0)
	v.SetDefault("reward.tank_max_c", 75.0)
	v.SetDefault("reward.panel_delta_cap", 10.0)
	v.SetDefault("reward.fast_switch_window", 10*time.Second)
	v.SetDefault("reward.slow_switch_window", 30*time.Second)

	// Guardrail defaults
	v.SetDefault("guardrail.min_on_time", 30*time.Second)
	v.SetDefault("guardrail.min_off_time", 20*time.Second)

	// Controller defaults
	v.SetDefault("controller.history_size", 100)
	v.SetDefault("controller.plot_every", 50)
	v.SetDefault("controller.plot_dir", "./plots")
	v.SetDefault("controller.queue_size", 32)
	v.SetDefault("controller.weather_timeout", 5*time.Second)
	v.SetDefault("controller.publish_timeout", 3*time.Second)
	v.SetDefault("controller.stats_window", 500)

	// Simulator defaults
	v.SetDefault("simulator.episodes", 3)
	v.SetDefault("simulator.step", time.Minute)
	v.SetDefault("simulator.start_hour", 6)
	v.SetDefault("simulator.end_hour", 20)
	v.SetDefault("simulator.sunrise_hour", 6)
	v.SetDefault("simulator.sunset_hour", 18)
	v.SetDefault("simulator.initial_tank_temp", 30.0)
	v.SetDefault("simulator.ambient_temp", 20.0)
	v.SetDefault("simulator.initial_cloud_cover", 0.2)
	v.SetDefault("simulator.cloud_step", 0.05)
	v.SetDefault("simulator.panel_gain_max", 40.0)
	v.SetDefault("simulator.tank_loss_rate", 0.002)
	v.SetDefault("simulator.tank_gain_rate", 0.05)
	v.SetDefault("simulator.log_dir", "./logs")
	v.SetDefault("simulator.seed", 42)
}

// Validate checks a configuration for values the controller cannot run with
func Validate(cfg *Config) error {
	rl := cfg.RL
	if rl.LearningRate <= 0 || rl.LearningRate > 1 {
		return fmt.Errorf("invalid learning rate: %f", rl.LearningRate)
	}
	if rl.DiscountFactor < 0 || rl.DiscountFactor >= 1 {
		return fmt.Errorf("invalid discount factor: %f", rl.DiscountFactor)
	}
	if rl.ExplorationRate < 0 || rl.ExplorationRate > 1 {
		return fmt.Errorf("invalid exploration rate: %f", rl.ExplorationRate)
	}
	if rl.ExplorationDecay <= 0 || rl.ExplorationDecay > 1 {
		return fmt.Errorf("invalid exploration decay: %f", rl.ExplorationDecay)
	}
	if rl.MinExploration < 0 || rl.MinExploration > 1 {
		return fmt.Errorf("invalid min exploration: %f", rl.MinExploration)
	}

	sd := rl.StateDiscretization
	for name, edges := range map[string][]float64{
		"tank_temp":   sd.TankTemp,
		"panel_delta": sd.PanelDelta,
		"sun_factor":  sd.SunFactor,
		"cloud_cover": sd.CloudCover,
	} {
		if err := validateEdges(edges); err != nil {
			return fmt.Errorf("invalid %s edges: %w", name, err)
		}
	}

	if cfg.Reward.TankMinC >= cfg.Reward.TankMaxC {
		return fmt.Errorf("tank_min_c (%.1f) must be below tank_max_c (%.1f)", cfg.Reward.TankMinC, cfg.Reward.TankMaxC)
	}
	if cfg.Reward.FastSwitchWindow > cfg.Reward.SlowSwitchWindow {
		return fmt.Errorf("fast_switch_window must not exceed slow_switch_window")
	}
	if cfg.Guardrail.MinOnTime < 0 || cfg.Guardrail.MinOffTime < 0 {
		return fmt.Errorf("guardrail dwell times must not be negative")
	}

	if cfg.Controller.HistorySize <= 0 {
		return fmt.Errorf("invalid history size: %d", cfg.Controller.HistorySize)
	}
	if cfg.Controller.QueueSize <= 0 {
		return fmt.Errorf("invalid queue size: %d", cfg.Controller.QueueSize)
	}
	if cfg.Controller.WeatherTimeout <= 0 || cfg.ModelPersistence.SaveTimeout <= 0 {
		return fmt.Errorf("weather and save timeouts must be positive")
	}
	if cfg.Controller.PublishTimeout <= 0 {
		return fmt.Errorf("invalid publish timeout: %s", cfg.Controller.PublishTimeout)
	}
	if cfg.Telemetry.Kafka.BatchTimeout < 0 {
		return fmt.Errorf("invalid kafka batch timeout: %s", cfg.Telemetry.Kafka.BatchTimeout)
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos: %d", cfg.MQTT.QoS)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}
	if cfg.GRPC.Enabled && (cfg.GRPC.Port <= 0 || cfg.GRPC.Port > 65535) {
		return fmt.Errorf("invalid grpc port: %d", cfg.GRPC.Port)
	}

	sim := cfg.Simulator
	if sim.Step <= 0 {
		return fmt.Errorf("invalid simulator step: %v", sim.Step)
	}
	if sim.StartHour < 0 || sim.EndHour > 24 || sim.StartHour >= sim.EndHour {
		return fmt.Errorf("invalid simulator hours: %d-%d", sim.StartHour, sim.EndHour)
	}
	if sim.SunriseHour >= sim.SunsetHour {
		return fmt.Errorf("invalid simulator daylight: %d-%d", sim.SunriseHour, sim.SunsetHour)
	}
	if sim.InitialCloudCover < 0 || sim.InitialCloudCover > 1 {
		return fmt.Errorf("invalid initial cloud cover: %f", sim.InitialCloudCover)
	}

	return nil
}

func validateEdges(edges []float64) error {
	if len(edges) == 0 {
		return fmt.Errorf("edges cannot be empty")
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return fmt.Errorf("edges must be in ascending order")
		}
	}
	return nil
}

// GetConfig returns the current configuration
func GetConfig() Config {
	return AppConfig
}

// WatchConfig watches for configuration file changes and hands every valid
// reload to callback.
func WatchConfig(callback func(Config)) {
	v := viper.GetViper()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("Config file changed: %s", e.Name)
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			log.Printf("Failed to reload config: %v", err)
			return
		}

		if err := Validate(&cfg); err != nil {
			log.Printf("Config validation failed after reload: %v", err)
			return
		}

		AppConfig = cfg
		log.Println("Configuration reloaded successfully")
		if callback != nil {
			callback(cfg)
		}
	})
	v.WatchConfig()
}

// CreateDirectories creates the directories the configuration points at
func CreateDirectories(cfg *Config) error {
	dirs := []string{cfg.ModelPersistence.ModelsPath, cfg.Controller.PlotDir, cfg.Simulator.LogDir}

	for _, dir := range dirs {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return nil
}
