package recipebox

import (
	"encoding"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime/debug"
	"slices"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ShoshinNikita/recipebox/pkg/rlog"
)

type Config struct {
	BuildInfo BuildInfo

	ServerPort int
	Dir        string

	RecipesURL           string
	RecipesRetryAttempts int
	RecipesCacheTTL      time.Duration
	HTTPTimeout          time.Duration

	MemoryCacheEntries      int
	ImageCacheMaxAge        time.Duration
	ImageCacheSweepInterval time.Duration

	// Debug options

	LogLevel rlog.Level
}

type BuildInfo struct {
	ShortGitHash string `json:"short_git_hash"`
	CommitTime   string `json:"commit_time"`
}

const (
	DefaultRecipesURL       = "https://d3jbb8n5wk0qxi.cloudfront.net/recipes.json"
	DefaultImageCacheMaxAge = 7 * 24 * time.Hour
)

func NewConfig() Config {
	return Config{
		BuildInfo: readBuildInfo(),
	}
}

// ImageCacheDir returns the directory of the disk image cache.
func (cfg Config) ImageCacheDir() string {
	return filepath.Join(cfg.Dir, "images")
}

type flagParams struct {
	// p is a pointer to a value.
	p            any
	defaultValue any
	desc         string
}

func (cfg *Config) getFlagParams() map[string]flagParams {
	return map[string]flagParams{
		"port": {
			p: &cfg.ServerPort, defaultValue: 8080, desc: "Server port",
		},
		"dir": {
			p: &cfg.Dir, defaultValue: "./var", desc: "Directory for app data (image cache and etc.)",
		},
		//
		"recipes-url": {
			p: &cfg.RecipesURL, defaultValue: DefaultRecipesURL, desc: "Url of the recipes JSON endpoint",
		},
		"recipes-retry-attempts": {
			p: &cfg.RecipesRetryAttempts, defaultValue: 3, desc: "" +
				"Number of attempts to load recipes. Only network errors and 5xx\n" +
				"responses are retried",
		},
		"recipes-cache-ttl": {
			p: &cfg.RecipesCacheTTL, defaultValue: time.Minute, desc: "" +
				"How long the web server reuses the loaded recipe list.\n" +
				"0 disables caching",
		},
		"http-timeout": {
			p: &cfg.HTTPTimeout, defaultValue: 30 * time.Second, desc: "Timeout of outgoing HTTP requests",
		},
		//
		"memory-cache-entries": {
			p: &cfg.MemoryCacheEntries, defaultValue: 500, desc: "Max number of decoded images kept in memory",
		},
		"image-cache-max-age": {
			p: &cfg.ImageCacheMaxAge, defaultValue: DefaultImageCacheMaxAge, desc: "Images older than this age are removed from the disk cache",
		},
		"image-cache-sweep-interval": {
			p: &cfg.ImageCacheSweepInterval, defaultValue: time.Hour, desc: "" +
				"How often old images are removed from the disk cache.\n" +
				"0 disables periodic sweeps",
		},
		//
		"log-level": {
			p: &cfg.LogLevel, defaultValue: rlog.LevelInfo, desc: "Set the minimal log level. One of: debug, info, warn, error",
		},
	}
}

// RegisterFlags registers all config options in the passed flag set.
func (cfg *Config) RegisterFlags(fs *pflag.FlagSet) error {
	for name, params := range cfg.getFlagParams() {
		switch p := params.p.(type) {
		case *bool:
			fs.BoolVar(p, name, params.defaultValue.(bool), params.desc)
		case *int:
			fs.IntVar(p, name, params.defaultValue.(int), params.desc)
		case *string:
			fs.StringVar(p, name, params.defaultValue.(string), params.desc)
		case *time.Duration:
			fs.DurationVar(p, name, params.defaultValue.(time.Duration), params.desc)
		case encoding.TextUnmarshaler:
			v, err := newTextValue(p, params.defaultValue.(encoding.TextMarshaler))
			if err != nil {
				return fmt.Errorf("invalid default value of flag %q: %w", name, err)
			}
			fs.Var(v, name, params.desc)
		default:
			return fmt.Errorf("flag %q has unsupported type: %T", name, p)
		}
	}
	return nil
}

// LoadFile reads a YAML file with flag values. The keys of the file are flag names.
// Values from the file are applied only to flags that were not set explicitly.
func (cfg *Config) LoadFile(fs *pflag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("couldn't read config file: %w", err)
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("couldn't decode config file: %w", err)
	}

	flags := cfg.getFlagParams()

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if _, ok := flags[name]; !ok {
			return fmt.Errorf("unknown config option %q", name)
		}
		if fs.Changed(name) {
			continue
		}
		if err := fs.Set(name, fmt.Sprint(values[name])); err != nil {
			return fmt.Errorf("invalid value of config option %q: %w", name, err)
		}
	}
	return nil
}

func (cfg Config) Validate() error {
	if cfg.ServerPort <= 0 {
		return errors.New("server port must be > 0")
	}
	if cfg.Dir == "" {
		return errors.New("dir can't be empty")
	}
	if cfg.RecipesURL == "" {
		return errors.New("recipes url can't be empty")
	}
	if cfg.RecipesRetryAttempts < 1 {
		return errors.New("recipes retry attempts must be >= 1")
	}
	if cfg.RecipesCacheTTL < 0 {
		return errors.New("recipes cache ttl can't be negative")
	}
	if cfg.MemoryCacheEntries < 1 {
		return errors.New("memory cache entries must be >= 1")
	}
	if cfg.ImageCacheMaxAge <= 0 {
		return errors.New("image cache max age must be > 0")
	}
	if cfg.ImageCacheSweepInterval < 0 {
		return errors.New("image cache sweep interval can't be negative")
	}
	return nil
}

// textValue adapts [encoding.TextUnmarshaler] to [pflag.Value].
type textValue struct {
	p encoding.TextUnmarshaler
}

func newTextValue(p encoding.TextUnmarshaler, defaultValue encoding.TextMarshaler) (textValue, error) {
	text, err := defaultValue.MarshalText()
	if err != nil {
		return textValue{}, err
	}
	if err := p.UnmarshalText(text); err != nil {
		return textValue{}, err
	}
	return textValue{p: p}, nil
}

func (v textValue) String() string {
	m, ok := v.p.(encoding.TextMarshaler)
	if !ok {
		return ""
	}
	text, err := m.MarshalText()
	if err != nil {
		return ""
	}
	return string(text)
}

func (v textValue) Set(s string) error {
	return v.p.UnmarshalText([]byte(s))
}

func (textValue) Type() string {
	return "string"
}

func readBuildInfo() BuildInfo {
	res := BuildInfo{
		ShortGitHash: "unknown",
		CommitTime:   "unknown",
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return res
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			res.ShortGitHash = s.Value
			if len(res.ShortGitHash) > 7 {
				res.ShortGitHash = res.ShortGitHash[:7]
			}

		case "vcs.time":
			t, err := time.Parse(time.RFC3339, s.Value)
			if err == nil {
				res.CommitTime = t.UTC().Format("2006-01-02 15:04:05 UTC")
			}
		}
	}
	return res
}

func (info BuildInfo) Print() {
	fmt.Fprintf(os.Stderr, `
    recipebox

    Commit Hash: %q
    Commit Time: %q

`,
		info.ShortGitHash,
		info.CommitTime,
	)
}

func (cfg Config) Print() {
	flags := cfg.getFlagParams()

	var (
		names         = make([]string, 0, len(flags))
		maxNameLength int
	)
	for name := range flags {
		if len(name) > maxNameLength {
			maxNameLength = len(name)
		}
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Fprint(os.Stderr, "    Config:\n\n")
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "        --%-*s = %v\n", maxNameLength, name, reflect.ValueOf(flags[name].p).Elem())
	}
	fmt.Fprint(os.Stderr, "\n")
}
