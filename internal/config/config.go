// Package config provides configuration types and defaults for the wait daemon.
package config

import (
	"time"
)

// Config holds all configuration options for the daemon.
type Config struct {
	Display       DisplayConfig       `mapstructure:"display"`
	Capture       CaptureConfig       `mapstructure:"capture"`
	DiffGate      DiffGateConfig      `mapstructure:"diff_gate"`
	Poller        PollerConfig        `mapstructure:"poller"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Vision        VisionConfig        `mapstructure:"vision"`
	Journal       JournalConfig       `mapstructure:"journal"`
	StuckDetector StuckDetectorConfig `mapstructure:"stuck_detector"`
	WakeSink      WakeSinkConfig      `mapstructure:"wake_sink"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
}

// DisplayConfig controls the per-task virtual display manager (C1).
type DisplayConfig struct {
	// MinSlot is the lowest numeric display slot ever allocated.
	MinSlot int `mapstructure:"min_slot"`
	// DefaultWidth/DefaultHeight size a newly allocated virtual display.
	DefaultWidth  int `mapstructure:"default_width"`
	DefaultHeight int `mapstructure:"default_height"`
	// ColorDepth is the virtual display's bit depth.
	ColorDepth int `mapstructure:"color_depth"`
	// SettleDelay is how long Allocate waits after spawning the display
	// subprocess before verifying it is alive.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	// StartWindowManager starts a minimal window manager bound to each
	// allocated display.
	StartWindowManager bool `mapstructure:"start_window_manager"`
	// TeardownGrace is how long Release waits for a graceful shutdown
	// before force-killing the window manager and display subprocesses.
	TeardownGrace time.Duration `mapstructure:"teardown_grace"`
	// ConnectionCacheSize bounds the number of cached display connections.
	ConnectionCacheSize int `mapstructure:"connection_cache_size"`
	// DefaultDisplay is returned by GetDisplayString for tasks with no
	// allocated display.
	DefaultDisplay string `mapstructure:"default_display"`
	// DisplayCommand/WindowManagerCommand name the executables used to
	// start a virtual display and window manager, with args built from
	// the slot/size at allocation time.
	DisplayCommand       string `mapstructure:"display_command"`
	WindowManagerCommand string `mapstructure:"window_manager_command"`
}

// CaptureConfig controls the frame source (C2).
type CaptureConfig struct {
	// MaxDim bounds the longer side of a full-resolution encoded frame.
	MaxDim int `mapstructure:"max_dim"`
	// Quality is the JPEG quality (1-100) used for full-resolution frames.
	Quality int `mapstructure:"quality"`
	// ThumbnailMaxDim/ThumbnailQuality size the small thumbnail encoding.
	ThumbnailMaxDim     int `mapstructure:"thumbnail_max_dim"`
	ThumbnailQuality    int `mapstructure:"thumbnail_quality"`
	WindowLookupTimeout time.Duration `mapstructure:"window_lookup_timeout"`
}

// DiffGateConfig controls the pixel-diff gate (C3).
type DiffGateConfig struct {
	// MaxWidth is the downsample width used before diffing.
	MaxWidth int `mapstructure:"max_width"`
	// IntensityThreshold is the per-pixel channel-sum delta considered "changed".
	IntensityThreshold int `mapstructure:"intensity_threshold"`
	// RatioThreshold is the fraction of changed pixels that counts as a diff.
	RatioThreshold float64 `mapstructure:"ratio_threshold"`
}

// PollerConfig controls the adaptive poller (C4).
type PollerConfig struct {
	// Adaptive selects between the adaptive profile and a fixed interval.
	Adaptive bool `mapstructure:"adaptive"`
	// Base is the starting/reset poll interval.
	Base time.Duration `mapstructure:"base"`
	// Min/Max clamp the poll interval.
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
	// StaticStreakSlowdown is how many consecutive "no change" outcomes
	// must accumulate before the interval is backed off.
	StaticStreakSlowdown int `mapstructure:"static_streak_slowdown"`
}

// SchedulerConfig controls the wait scheduler (C8).
type SchedulerConfig struct {
	// DefaultTimeout is the deadline a submit-wait request gets when it
	// omits an explicit timeout.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// MaxStaticSeconds forces a vision call after this much gate-skipped time.
	MaxStaticSeconds time.Duration `mapstructure:"max_static_seconds"`
	// PartialStreakResolve is the number of consecutive partial verdicts
	// that promotes a job to resolved.
	PartialStreakResolve int `mapstructure:"partial_streak_resolve"`
	// ContextFrameCap/ContextVerdictCap bound the Job Context window.
	ContextFrameCap   int `mapstructure:"context_frame_cap"`
	ContextVerdictCap int `mapstructure:"context_verdict_cap"`
	// ScreenshotsDir is where terminal-frame screenshots are saved.
	ScreenshotsDir string `mapstructure:"screenshots_dir"`
}

// VisionConfig selects and configures the vision backend (C6).
type VisionConfig struct {
	// Backend is one of "local", "openai", "hosted", "passthrough".
	Backend string `mapstructure:"backend"`
	// Endpoint is the HTTP base URL for local/openai/hosted backends.
	Endpoint string `mapstructure:"endpoint"`
	// Model is the model name/identifier passed to the backend.
	Model string `mapstructure:"model"`
	// APIKeyEnv names the environment variable holding the backend's API key.
	APIKeyEnv string `mapstructure:"api_key_env"`
	// Timeout bounds a single Evaluate call.
	Timeout time.Duration `mapstructure:"timeout"`
	// ResolveThreshold is the confidence at or above which a "watching" decision
	// with non-empty evidence is promoted to "partial".
	ResolveThreshold float64 `mapstructure:"resolve_threshold"`
	// HealthCacheTTL bounds how long a Health() result is memoized.
	HealthCacheTTL time.Duration `mapstructure:"health_cache_ttl"`
}

// JournalConfig controls task journal persistence (C9).
type JournalConfig struct {
	// Path is the SQLite database file path.
	Path string `mapstructure:"path"`
	// WindowIDCacheTTL is loaded but not read by any component; a resolved
	// window id stays on its wait job for the job's lifetime.
	WindowIDCacheTTL time.Duration `mapstructure:"window_id_cache_ttl"`
}

// StuckDetectorConfig controls the stuck detector (C10).
type StuckDetectorConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	SilenceThreshold  time.Duration `mapstructure:"silence_threshold"`
	AlertCooldown     time.Duration `mapstructure:"alert_cooldown"`
	ResumeMessageTail int           `mapstructure:"resume_message_tail"`
}

// WakeSinkConfig controls the wake sink (C11).
type WakeSinkConfig struct {
	// Command is the external program invoked to deliver a wake event;
	// the event text is passed as its sole argument.
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries/InitialBackoff govern retrying a transient spawn failure.
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
}

// TracingConfig controls OpenTelemetry span emission.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Exporter    string `mapstructure:"exporter"` // "stdout" or "otlp"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Defaults returns a Config populated with the reference defaults from the
// specification (poll bounds, gate thresholds, streak counts, etc).
func Defaults() Config {
	return Config{
		Display: DisplayConfig{
			MinSlot:              100,
			DefaultWidth:         1280,
			DefaultHeight:        720,
			ColorDepth:           24,
			SettleDelay:          300 * time.Millisecond,
			StartWindowManager:   true,
			TeardownGrace:        3 * time.Second,
			ConnectionCacheSize:  16,
			DefaultDisplay:       ":0",
			DisplayCommand:       "Xvfb",
			WindowManagerCommand: "fluxbox",
		},
		Capture: CaptureConfig{
			MaxDim:              1280,
			Quality:             80,
			ThumbnailMaxDim:     320,
			ThumbnailQuality:    60,
			WindowLookupTimeout: 2 * time.Second,
		},
		DiffGate: DiffGateConfig{
			MaxWidth:           320,
			IntensityThreshold: 10,
			RatioThreshold:     0.01,
		},
		Poller: PollerConfig{
			Adaptive:             true,
			Base:                 2 * time.Second,
			Min:                  500 * time.Millisecond,
			Max:                  10 * time.Second,
			StaticStreakSlowdown: 5,
		},
		Scheduler: SchedulerConfig{
			DefaultTimeout:        5 * time.Minute,
			MaxStaticSeconds:      30 * time.Second,
			PartialStreakResolve:  2,
			ContextFrameCap:       4,
			ContextVerdictCap:     3,
			ScreenshotsDir:        "screenshots",
		},
		Vision: VisionConfig{
			Backend:          "passthrough",
			Endpoint:         "http://localhost:11434",
			Model:            "default",
			APIKeyEnv:        "VISION_API_KEY",
			Timeout:          150 * time.Second,
			ResolveThreshold: 0.75,
			HealthCacheTTL:   30 * time.Second,
		},
		Journal: JournalConfig{
			Path:             "waitkeeper.db",
			WindowIDCacheTTL: 1 * time.Minute,
		},
		StuckDetector: StuckDetectorConfig{
			Interval:          60 * time.Second,
			SilenceThreshold:  300 * time.Second,
			AlertCooldown:     300 * time.Second,
			ResumeMessageTail: 5,
		},
		WakeSink: WakeSinkConfig{
			Command:        "",
			Timeout:        5 * time.Second,
			MaxRetries:     2,
			InitialBackoff: 200 * time.Millisecond,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			ServiceName: "waitkeeperd",
		},
	}
}
