package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	viperlib "github.com/spf13/viper"

	"github.com/alxdofficial/openclaw-memoriesai/internal/log"
)

// Viper is the package-wide viper instance, using "::" as its key delimiter
// so that config keys never collide with the "." already used in durations
// and hostnames when read from the environment.
var Viper = viperlib.NewWithOptions(viperlib.KeyDelimiter("::"))

// bindDefaults seeds viper with every field of Defaults() so that an absent
// config file, or a config file missing a key, still yields a complete Config.
func bindDefaults(v *viperlib.Viper) {
	d := Defaults()

	v.SetDefault("display::min_slot", d.Display.MinSlot)
	v.SetDefault("display::default_width", d.Display.DefaultWidth)
	v.SetDefault("display::default_height", d.Display.DefaultHeight)
	v.SetDefault("display::color_depth", d.Display.ColorDepth)
	v.SetDefault("display::settle_delay", d.Display.SettleDelay)
	v.SetDefault("display::start_window_manager", d.Display.StartWindowManager)
	v.SetDefault("display::teardown_grace", d.Display.TeardownGrace)
	v.SetDefault("display::connection_cache_size", d.Display.ConnectionCacheSize)
	v.SetDefault("display::default_display", d.Display.DefaultDisplay)
	v.SetDefault("display::display_command", d.Display.DisplayCommand)
	v.SetDefault("display::window_manager_command", d.Display.WindowManagerCommand)

	v.SetDefault("capture::max_dim", d.Capture.MaxDim)
	v.SetDefault("capture::quality", d.Capture.Quality)
	v.SetDefault("capture::thumbnail_max_dim", d.Capture.ThumbnailMaxDim)
	v.SetDefault("capture::thumbnail_quality", d.Capture.ThumbnailQuality)
	v.SetDefault("capture::window_lookup_timeout", d.Capture.WindowLookupTimeout)

	v.SetDefault("diff_gate::max_width", d.DiffGate.MaxWidth)
	v.SetDefault("diff_gate::intensity_threshold", d.DiffGate.IntensityThreshold)
	v.SetDefault("diff_gate::ratio_threshold", d.DiffGate.RatioThreshold)

	v.SetDefault("poller::adaptive", d.Poller.Adaptive)
	v.SetDefault("poller::base", d.Poller.Base)
	v.SetDefault("poller::min", d.Poller.Min)
	v.SetDefault("poller::max", d.Poller.Max)
	v.SetDefault("poller::static_streak_slowdown", d.Poller.StaticStreakSlowdown)

	v.SetDefault("scheduler::default_timeout", d.Scheduler.DefaultTimeout)
	v.SetDefault("scheduler::max_static_seconds", d.Scheduler.MaxStaticSeconds)
	v.SetDefault("scheduler::partial_streak_resolve", d.Scheduler.PartialStreakResolve)
	v.SetDefault("scheduler::context_frame_cap", d.Scheduler.ContextFrameCap)
	v.SetDefault("scheduler::context_verdict_cap", d.Scheduler.ContextVerdictCap)
	v.SetDefault("scheduler::screenshots_dir", d.Scheduler.ScreenshotsDir)

	v.SetDefault("vision::backend", d.Vision.Backend)
	v.SetDefault("vision::endpoint", d.Vision.Endpoint)
	v.SetDefault("vision::model", d.Vision.Model)
	v.SetDefault("vision::api_key_env", d.Vision.APIKeyEnv)
	v.SetDefault("vision::timeout", d.Vision.Timeout)
	v.SetDefault("vision::resolve_threshold", d.Vision.ResolveThreshold)
	v.SetDefault("vision::health_cache_ttl", d.Vision.HealthCacheTTL)

	v.SetDefault("journal::path", d.Journal.Path)
	v.SetDefault("journal::window_id_cache_ttl", d.Journal.WindowIDCacheTTL)

	v.SetDefault("stuck_detector::interval", d.StuckDetector.Interval)
	v.SetDefault("stuck_detector::silence_threshold", d.StuckDetector.SilenceThreshold)
	v.SetDefault("stuck_detector::alert_cooldown", d.StuckDetector.AlertCooldown)
	v.SetDefault("stuck_detector::resume_message_tail", d.StuckDetector.ResumeMessageTail)

	v.SetDefault("wake_sink::command", d.WakeSink.Command)
	v.SetDefault("wake_sink::timeout", d.WakeSink.Timeout)
	v.SetDefault("wake_sink::max_retries", d.WakeSink.MaxRetries)
	v.SetDefault("wake_sink::initial_backoff", d.WakeSink.InitialBackoff)

	v.SetDefault("tracing::enabled", d.Tracing.Enabled)
	v.SetDefault("tracing::exporter", d.Tracing.Exporter)
	v.SetDefault("tracing::otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing::service_name", d.Tracing.ServiceName)
}

// resolveConfigFile looks up the config file in order: an explicit --config
// flag wins, otherwise ./.waitkeeper/config.yaml in the working directory,
// falling back to ~/.config/waitkeeper/config.yaml.
func resolveConfigFile(v *viperlib.Viper, cfgFile string) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		return
	}

	if _, err := os.Stat(".waitkeeper/config.yaml"); err == nil {
		v.SetConfigFile(".waitkeeper/config.yaml")
		return
	}

	home, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(home, ".config", "waitkeeper"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// Load reads config from cfgFile (or the default search path), falling back
// to defaults-only when no config file exists anywhere, and loads a local
// .env (if present) into the process environment for vision-backend API keys.
func Load(cfgFile string) (Config, error) {
	_ = godotenv.Load() // optional; vision backends fall back to an unset key

	bindDefaults(Viper)
	resolveConfigFile(Viper, cfgFile)

	var cfg Config
	if err := Viper.ReadInConfig(); err != nil {
		var notFound viperlib.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, err
		}
		log.Info(log.CatConfig, "no config file found, using defaults")
	} else {
		log.Info(log.CatConfig, "config loaded", "path", Viper.ConfigFileUsed())
	}

	if err := Viper.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Watch installs an fsnotify-backed hot-reload: whenever the loaded config
// file changes on disk, it is re-unmarshalled into cfg and onChange is
// invoked with the refreshed value. Safe to call when no config file was
// loaded (it becomes a no-op).
func Watch(cfg *Config, onChange func(Config)) {
	if Viper.ConfigFileUsed() == "" {
		return
	}
	Viper.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := Viper.Unmarshal(&next); err != nil {
			log.ErrorErr(log.CatConfig, "config reload failed", err)
			return
		}
		*cfg = next
		log.Info(log.CatConfig, "config reloaded", "path", e.Name)
		onChange(next)
	})
	Viper.WatchConfig()
}
