// Package config loads the supervisor's YAML configuration file and
// layers environment-variable overrides on top, following the teacher's
// load-then-override idiom.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// CPUConfig governs the Concurrency Planner's core-detection inputs.
type CPUConfig struct {
	LogicalCores         int     `yaml:"logical_cores"`
	TargetCPUUtilization float64 `yaml:"target_cpu_utilization"`
}

// Av1anConfig overrides the derived concurrency budget.
type Av1anConfig struct {
	WorkersPerJob     int `yaml:"workers_per_job"`
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
}

// EncoderSafetyConfig guards against accidental hardware-encoder use.
type EncoderSafetyConfig struct {
	DisallowHardwareEncoding bool `yaml:"disallow_hardware_encoding"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	JobStateDir   string `yaml:"job_state_dir"`
	TempOutputDir string `yaml:"temp_output_dir"`
}

// ScanConfig governs library discovery.
type ScanConfig struct {
	LibraryRoots      []string `yaml:"library_roots"`
	StabilityWaitSecs int      `yaml:"stability_wait_secs"`
	ScanIntervalSecs  int      `yaml:"scan_interval_secs"`
	WriteWhySidecars  bool     `yaml:"write_why_sidecars"`
}

// GatesConfig governs admission and acceptance thresholds.
type GatesConfig struct {
	MinBytes     int64   `yaml:"min_bytes"`
	MaxSizeRatio float64 `yaml:"max_size_ratio"`
	KeepOriginal bool    `yaml:"keep_original"`
}

// MetricsConfig governs the metrics HTTP server and publisher cadence.
type MetricsConfig struct {
	ListenAddr        string `yaml:"listen_addr"`
	PublishIntervalMs int    `yaml:"publish_interval_ms"`
}

// PasswordAuthConfig configures HTTP Basic password auth.
type PasswordAuthConfig struct {
	Username string `yaml:"username"`
	Hash     string `yaml:"hash"`
	Algo     string `yaml:"algo"` // "bcrypt" | "argon2id"
}

// OIDCAuthConfig configures the cookie-session OIDC flow.
type OIDCAuthConfig struct {
	Issuer        string   `yaml:"issuer"`
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	RedirectURL   string   `yaml:"redirect_url"`
	Scopes        []string `yaml:"scopes"`
	GroupClaim    string   `yaml:"group_claim"`
	AllowedGroups []string `yaml:"allowed_groups"`
	SessionSecret string   `yaml:"session_secret"`
}

// AuthConfig selects and configures the metrics endpoint's auth mode.
type AuthConfig struct {
	Mode     string             `yaml:"mode"` // "none" | "password" | "oidc"
	Password PasswordAuthConfig `yaml:"password"`
	OIDC     OIDCAuthConfig     `yaml:"oidc"`
}

// NtfyConfig configures best-effort job-completion notifications.
type NtfyConfig struct {
	ServerURL  string `yaml:"server_url"`
	Topic      string `yaml:"topic"`
	Token      string `yaml:"token"`
	OnComplete bool   `yaml:"on_complete"`
	OnFailure  bool   `yaml:"on_failure"`
}

// NotifyConfig wraps the available notification channels.
type NotifyConfig struct {
	Ntfy NtfyConfig `yaml:"ntfy"`
}

// Config is the full supervisor configuration.
type Config struct {
	CPU           CPUConfig           `yaml:"cpu"`
	Av1an         Av1anConfig         `yaml:"av1an"`
	EncoderSafety EncoderSafetyConfig `yaml:"encoder_safety"`
	Paths         PathsConfig         `yaml:"paths"`
	Scan          ScanConfig          `yaml:"scan"`
	Gates         GatesConfig         `yaml:"gates"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Auth          AuthConfig          `yaml:"auth"`
	Notify        NotifyConfig        `yaml:"notify"`

	Av1anPath   string `yaml:"av1an_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
}

// Default returns a config with sensible defaults, mirroring the example
// file in SPEC_FULL.md's EXTERNAL INTERFACES section.
func Default() *Config {
	return &Config{
		CPU: CPUConfig{TargetCPUUtilization: 0.85},
		EncoderSafety: EncoderSafetyConfig{
			DisallowHardwareEncoding: true,
		},
		Paths: PathsConfig{
			JobStateDir:   "/var/lib/av1superd/jobs",
			TempOutputDir: "/var/lib/av1superd/tmp",
		},
		Scan: ScanConfig{
			LibraryRoots:      []string{"/media/library"},
			StabilityWaitSecs: 10,
			ScanIntervalSecs:  300,
			WriteWhySidecars:  true,
		},
		Gates: GatesConfig{
			MinBytes:     1048576,
			MaxSizeRatio: 0.95,
		},
		Metrics: MetricsConfig{
			ListenAddr:        "127.0.0.1:9191",
			PublishIntervalMs: 500,
		},
		Notify: NotifyConfig{
			Ntfy: NtfyConfig{OnFailure: true},
		},
		Auth:        AuthConfig{Mode: "none"},
		Av1anPath:   "av1an",
		FFprobePath: "ffprobe",
		FFmpegPath:  "ffmpeg",
	}
}

// Load reads a YAML config file, falling back to Default() when path does
// not exist, then layers environment-variable overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Av1anPath == "" {
		cfg.Av1anPath = "av1an"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CPU_LOGICAL_CORES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CPU.LogicalCores = n
		}
	}
	if v := os.Getenv("CPU_TARGET_UTILIZATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CPU.TargetCPUUtilization = f
		}
	}
	if v := os.Getenv("AV1AN_WORKERS_PER_JOB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Av1an.WorkersPerJob = n
		}
	}
	if v := os.Getenv("AV1AN_MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Av1an.MaxConcurrentJobs = n
		}
	}
	if v := os.Getenv("ENCODER_DISALLOW_HARDWARE_ENCODING"); v != "" {
		if b, ok := envBool(v); ok {
			cfg.EncoderSafety.DisallowHardwareEncoding = b
		}
	}
	if v := os.Getenv("AV1SUPERD_METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("AV1SUPERD_SCAN_INTERVAL_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scan.ScanIntervalSecs = n
		}
	}
	if v := os.Getenv("AV1SUPERD_JOB_STATE_DIR"); v != "" {
		cfg.Paths.JobStateDir = v
	}
	if v := os.Getenv("AV1SUPERD_TEMP_OUTPUT_DIR"); v != "" {
		cfg.Paths.TempOutputDir = v
	}
	if v := os.Getenv("AV1SUPERD_OIDC_CLIENT_SECRET"); v != "" {
		cfg.Auth.OIDC.ClientSecret = v
	}
	if v := os.Getenv("AV1SUPERD_OIDC_SESSION_SECRET"); v != "" {
		cfg.Auth.OIDC.SessionSecret = v
	}
	if v := os.Getenv("AV1SUPERD_OIDC_ALLOWED_GROUPS"); v != "" {
		cfg.Auth.OIDC.AllowedGroups = splitCommaList(v)
	}
}

func splitCommaList(value string) []string {
	parts := []string{}
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts = append(parts, item)
	}
	return parts
}

// envBool parses the accepted bool vocabulary case-insensitively.
// Invalid values report ok=false so the caller leaves the setting
// unchanged, per the environment-override contract.
func envBool(v string) (value bool, ok bool) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}
