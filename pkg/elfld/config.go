package elfld

import (
	"bytes"
	"flag"
	"io"

	"github.com/drone/envsubst"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/grafana/elfld/pkg/loader"
)

type Config struct {
	Loader   loader.Config `yaml:"loader"`
	LogLevel string        `yaml:"log_level"`

	ConfigFile      string `yaml:"-"`
	ConfigExpandEnv bool   `yaml:"-"`
}

func (c *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&c.ConfigFile, "config.file", "", "yaml file to load")
	f.BoolVar(&c.ConfigExpandEnv, "config.expand-env", false, "Expands ${var} in config according to the values of the environment variables.")
	f.StringVar(&c.LogLevel, "log.level", "info", "Only log messages with the given severity or above. Valid levels: [debug, info, warn, error]")
	c.Loader.RegisterFlags(f)
}

func newDefaultConfig() *Config {
	defaultConfig := &Config{}
	defaultFS := flag.NewFlagSet("", flag.PanicOnError)
	defaultConfig.RegisterFlags(defaultFS)
	return defaultConfig
}

func (c *Config) Validate() error {
	if _, err := level.Parse(c.LogLevel); err != nil {
		return errors.Wrapf(err, "log level %q", c.LogLevel)
	}
	return c.Loader.Validate()
}

// LoadConfig returns the defaults overlaid with the yaml file at path. An
// empty path yields the defaults. Unknown keys are an error.
func LoadConfig(fs afero.Fs, path string, expandEnv bool) (*Config, error) {
	cfg := newDefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}
	buf, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	if expandEnv {
		s, err := envsubst.EvalEnv(string(buf))
		if err != nil {
			return nil, errors.Wrap(err, "expand environment variables in config file")
		}
		buf = []byte(s)
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "parse config file %s", path)
	}
	cfg.ConfigFile = path
	cfg.ConfigExpandEnv = expandEnv
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid config")
	}
	return cfg, nil
}
