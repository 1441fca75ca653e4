package confloader

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "DELTAMESH_"

// envSectionSeparator separates nesting levels in environment variable
// names. Single underscores stay part of the key.
const envSectionSeparator = "__"

// Source names reported by Origin.
const (
	SourceFile     = "file"
	SourceEnv      = "env"
	SourceOverride = "override"
)

// Loader merges the configuration file, environment variables and
// overrides, remembering which source set each key.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	overrides map[string]any
	strict    bool

	origin  map[string]string
	unknown []string
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithOverrides applies flat dotted keys after the environment, e.g.
// {"sync.interval": "500ms"}.
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		l.overrides = values
	}
}

// WithStrict makes Unmarshal fail on keys from the file or the overrides
// that match no field of the target. Unknown environment keys are only
// reported by UnknownKeys, since the prefix is shared with CLI flags.
func WithStrict() Option {
	return func(l *Loader) {
		l.strict = true
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
		origin:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath returns the configured file path, if any.
func (l *Loader) FilePath() string {
	return l.filePath
}

// Load reads every source in priority order and unmarshals the result
// into target. Fields no source sets keep their value, so callers pass a
// struct pre-filled with defaults.
func (l *Loader) Load(target any) error {
	if err := l.LoadFile(l.filePath); err != nil {
		return err
	}
	if err := l.LoadEnv(); err != nil {
		return err
	}
	if err := l.LoadMap(l.overrides); err != nil {
		return err
	}
	return l.Unmarshal(target)
}

// LoadFile merges a YAML file. An empty path is a no-op.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	layer := koanf.New(".")
	if err := layer.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	return l.merge(layer, SourceFile)
}

// LoadEnv merges prefixed environment variables.
//
// DELTAMESH_SYNC__TICK_TIMEOUT=10s sets sync.tick_timeout.
func (l *Loader) LoadEnv() error {
	layer := koanf.New(".")
	if err := layer.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return l.merge(layer, SourceEnv)
}

func (l *Loader) envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
	return strings.ReplaceAll(s, envSectionSeparator, ".")
}

// LoadMap merges flat dotted keys or nested maps as overrides.
func (l *Loader) LoadMap(data map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	layer := koanf.New(".")
	if err := layer.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}
	return l.merge(layer, SourceOverride)
}

func (l *Loader) merge(layer *koanf.Koanf, source string) error {
	if err := l.k.Merge(layer); err != nil {
		return fmt.Errorf("merge %s: %w", source, err)
	}
	for _, key := range layer.Keys() {
		l.origin[key] = source
	}
	return nil
}

// Unmarshal decodes the merged configuration into target using koanf
// struct tags.
func (l *Loader) Unmarshal(target any) error {
	var md mapstructure.Metadata
	err := l.k.UnmarshalWithConf("", target, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Metadata:         &md,
			Result:           target,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	l.unknown = slices.Sorted(slices.Values(md.Unused))
	if !l.strict {
		return nil
	}
	var rejected []string
	for _, key := range l.unknown {
		if src := l.sourceOf(key); src != SourceEnv {
			rejected = append(rejected, fmt.Sprintf("%s (%s)", key, src))
		}
	}
	if len(rejected) > 0 {
		return fmt.Errorf("unknown configuration keys: %s", strings.Join(rejected, ", "))
	}
	return nil
}

// sourceOf finds the source of key, or of any key nested under it.
func (l *Loader) sourceOf(key string) string {
	if src, ok := l.origin[key]; ok {
		return src
	}
	prefix := key + "."
	for k, src := range l.origin {
		if strings.HasPrefix(k, prefix) {
			return src
		}
	}
	return ""
}

// Origin returns the source that last set key, or "" if none did.
func (l *Loader) Origin(key string) string {
	return l.origin[key]
}

// UnknownKeys returns the keys the last Unmarshal could not place in its
// target, sorted.
func (l *Loader) UnknownKeys() []string {
	return l.unknown
}

// Keys returns every merged key, sorted.
func (l *Loader) Keys() []string {
	return l.k.Keys()
}

// String returns the merged value of key as a string.
func (l *Loader) String(key string) string {
	return l.k.String(key)
}
