package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ricopen19/OCR-to-doc/pkg/pipeline"
)

const (
	// AppName names the user config directory and the settings file.
	AppName = "ocrdoc"
	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "OCRDOC"

	settingsName = "settings"
)

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// envSpec maps an environment variable onto a config path.
type envSpec struct {
	Name string
	Path string
}

// SetConfigFile makes the next Load read path instead of searching for
// settings.yaml. An empty path restores the search.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load resolves configuration and stores it for GetConfig. Each override is
// a nested map applied above every other source; later overrides win.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	if err := readSettingsFile(v, explicit); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project_root", "")

	v.SetDefault("pipeline.entry", "")
	v.SetDefault("pipeline.interpreter", "")
	v.SetDefault("pipeline.preview_helper", "")
	v.SetDefault("pipeline.gpu_device", "")

	v.SetDefault("progress.ocr_fraction", 0.90)
	v.SetDefault("progress.merge_fraction", 0.92)
	v.SetDefault("progress.docx_fraction", 0.96)
	v.SetDefault("progress.excel_fraction", 0.99)
	v.SetDefault("progress.eta_window", 5)
	v.SetDefault("progress.max_inferred", 99.0)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("jobs.archive_enabled", true)
	v.SetDefault("jobs.archive_dir", "")

	v.SetDefault("defaults.formats", []string{"md"})
	v.SetDefault("defaults.enable_figure", true)
	v.SetDefault("defaults.use_gpu", false)
	v.SetDefault("defaults.chunk_size", 0)
	v.SetDefault("defaults.rest_seconds", 0)
	v.SetDefault("defaults.pdf_dpi", 0)

	v.SetDefault("export.s3.region", "")
	v.SetDefault("export.s3.endpoint", "")
	v.SetDefault("export.s3.profile", "")
	v.SetDefault("export.s3.access_key_id", "")
	v.SetDefault("export.s3.secret_access_key", "")
	v.SetDefault("export.s3.force_path_style", false)
}

// readSettingsFile reads the explicit file, or the first settings.yaml found
// in <project root>/configs then the user config dir. A missing searched
// file is not an error.
func readSettingsFile(v *viper.Viper, explicit string) error {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName(settingsName)
	v.SetConfigType("yaml")
	if root, err := findProjectRoot(); err == nil {
		v.AddConfigPath(filepath.Join(root, "configs"))
	}
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// getEnvSpecs lists the short environment names that do not follow the
// OCRDOC_<SECTION>_<KEY> pattern.
func getEnvSpecs() []envSpec {
	return []envSpec{
		{Name: EnvPrefix + "_PROJECT_ROOT", Path: "project_root"},
		{Name: EnvPrefix + "_HOST", Path: "server.host"},
		{Name: EnvPrefix + "_PORT", Path: "server.port"},
		{Name: EnvPrefix + "_READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: EnvPrefix + "_WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: EnvPrefix + "_SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: EnvPrefix + "_LOG_LEVEL", Path: "logging.level"},
		{Name: EnvPrefix + "_LOG_PROFILE", Path: "logging.profile"},
		{Name: EnvPrefix + "_ARCHIVE_DIR", Path: "jobs.archive_dir"},
		{Name: pipeline.InterpreterEnv, Path: "pipeline.interpreter"},
	}
}

// getUserConfigPaths returns $XDG_CONFIG_HOME/ocrdoc or the platform user
// config dir equivalent.
func getUserConfigPaths() []string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return []string{filepath.Join(xdg, AppName)}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return []string{}
	}
	return []string{filepath.Join(dir, AppName)}
}

// DefaultArchiveDir is where terminal job snapshots go when jobs.archive_dir
// is empty.
func DefaultArchiveDir() string {
	paths := getUserConfigPaths()
	if len(paths) == 0 {
		return filepath.Join(os.TempDir(), AppName, "jobs")
	}
	return filepath.Join(paths[0], "jobs")
}

// findProjectRoot honours OCRDOC_PROJECT_ROOT, then walks up from the
// working directory looking for the pipeline dispatcher.
func findProjectRoot() (string, error) {
	if root := strings.TrimSpace(os.Getenv(EnvPrefix + "_PROJECT_ROOT")); root != "" {
		return root, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if root, ok := pipeline.FindProjectRoot(cwd); ok {
		return root, nil
	}
	return "", pipeline.ErrProjectRootNotFound
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func normalize(cfg *Config) {
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Profile = strings.ToLower(strings.TrimSpace(cfg.Logging.Profile))
	if cfg.Jobs.ArchiveDir == "" {
		cfg.Jobs.ArchiveDir = DefaultArchiveDir()
	}
	for i, f := range cfg.Defaults.Formats {
		cfg.Defaults.Formats[i] = strings.TrimSpace(f)
	}
}

var (
	validatorOnce   sync.Once
	structValidator *validator.Validate
)

func validate(cfg *Config) error {
	validatorOnce.Do(func() {
		structValidator = validator.New()
	})

	var problems []string
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed %q check (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	if err := cfg.Progress.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
