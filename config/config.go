// Package config loads the server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ozontech/pnrpc/consts"
	"github.com/ozontech/pnrpc/rpc"
	"github.com/ozontech/pnrpc/server"
	"github.com/ozontech/pnrpc/tracing"
)

// Size is a byte count written as "512KiB", "16MB" or a plain number.
type Size int64

func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = Size(n)
	return nil
}

func (s Size) MarshalYAML() (any, error) {
	return humanize.IBytes(uint64(s)), nil
}

func (s Size) String() string { return humanize.IBytes(uint64(s)) }

type Config struct {
	Server  Server  `yaml:"server"`
	Admin   Admin   `yaml:"admin"`
	Log     Log     `yaml:"log"`
	Tracing Tracing `yaml:"tracing"`
	Methods Methods `yaml:"methods"`
}

type Server struct {
	Addr         string        `yaml:"addr"`
	Workers      int           `yaml:"workers"`
	MaxConns     int           `yaml:"max_conns"`
	MaxFrameSize Size          `yaml:"max_frame_size"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

type Admin struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Log struct {
	// Level is a zap level name, "" disables logging.
	Level string `yaml:"level"`
	// Development switches to the human-readable console encoder.
	Development bool `yaml:"development"`
}

type Tracing struct {
	Exporter string `yaml:"exporter"`
	Pretty   bool   `yaml:"pretty"`
}

type Methods struct {
	// SleepExecutors - число executor'ов, на которые перепривязывается sleep
	SleepExecutors int    `yaml:"sleep_executors"`
	Lookup         Lookup `yaml:"lookup"`
	// Async calls echo on this address, the server address by default.
	EchoAddr string `yaml:"echo_addr"`

	// Limits by method name.
	Limits map[string]Limits `yaml:"limits"`
}

type Lookup struct {
	// DSN of the sqlite database, in-memory with demo rows by default.
	DSN       string `yaml:"dsn"`
	CacheSize int    `yaml:"cache_size"`
}

type Limits struct {
	RequestRate  Size    `yaml:"request_rate"`
	ResponseRate Size    `yaml:"response_rate"`
	Rate         float64 `yaml:"rate"`
	Burst        int     `yaml:"burst"`
}

func (l Limits) RPC() rpc.Limits {
	return rpc.Limits{
		RequestRate:  int64(l.RequestRate),
		ResponseRate: int64(l.ResponseRate),
		Rate:         l.Rate,
		Burst:        l.Burst,
	}
}

func Default() *Config {
	return &Config{
		Server: Server{
			Addr:         consts.DefaultListenAddr,
			Workers:      4,
			MaxFrameSize: consts.MaxFrameSize,
			StopTimeout:  consts.DefaultStopTimeout,
		},
		Admin: Admin{
			Addr: consts.DefaultAdminAddr,
		},
		Log: Log{
			Level: "info",
		},
		Methods: Methods{
			SleepExecutors: 1,
			Lookup: Lookup{
				CacheSize: 128,
			},
		},
	}
}

// Load reads path over the defaults. Empty path returns the defaults.
func Load(path string) (*Config, error) {
	conf := Default()
	if path == "" {
		return conf, conf.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(conf); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) Validate() (err error) {
	if c.Server.Addr == "" {
		err = multierr.Append(err, errors.New("server.addr must not be empty"))
	}
	if c.Server.Workers < 0 {
		err = multierr.Append(err, errors.New("server.workers must be >= 0"))
	}
	if c.Server.MaxConns < 0 {
		err = multierr.Append(err, errors.New("server.max_conns must be >= 0"))
	}
	if c.Server.MaxFrameSize <= consts.RequestHeaderLen || c.Server.MaxFrameSize > consts.MaxFrameSize {
		err = multierr.Append(err, fmt.Errorf(
			"server.max_frame_size must be in (%d, %s]",
			consts.RequestHeaderLen, humanize.IBytes(consts.MaxFrameSize),
		))
	}
	if c.Admin.Enabled && c.Admin.Addr == "" {
		err = multierr.Append(err, errors.New("admin.addr must not be empty"))
	}
	if c.Log.Level != "" {
		if _, lerr := zap.ParseAtomicLevel(c.Log.Level); lerr != nil {
			err = multierr.Append(err, fmt.Errorf("log.level: %w", lerr))
		}
	}
	switch c.Tracing.Exporter {
	case "", tracing.ExporterNoop, tracing.ExporterStdout:
	default:
		err = multierr.Append(err, fmt.Errorf("tracing.exporter: unsupported %q", c.Tracing.Exporter))
	}
	if c.Methods.SleepExecutors < 0 {
		err = multierr.Append(err, errors.New("methods.sleep_executors must be >= 0"))
	}
	if c.Methods.Lookup.CacheSize < 0 {
		err = multierr.Append(err, errors.New("methods.lookup.cache_size must be >= 0"))
	}
	for name, l := range c.Methods.Limits {
		if l.RequestRate < 0 || l.ResponseRate < 0 || l.Rate < 0 || l.Burst < 0 {
			err = multierr.Append(err, fmt.Errorf("methods.limits.%s: negative limit", name))
		}
	}
	return err
}

func (c *Config) ServerConfig() server.Config {
	return server.Config{
		Addr:         c.Server.Addr,
		Workers:      c.Server.Workers,
		MaxConns:     c.Server.MaxConns,
		MaxFrameSize: int(c.Server.MaxFrameSize),
		StopTimeout:  c.Server.StopTimeout,
	}
}

func (c *Config) TracingConfig() tracing.Config {
	return tracing.Config{
		Exporter: c.Tracing.Exporter,
		Pretty:   c.Tracing.Pretty,
	}
}

// Logger builds the process logger. An empty level gives a nop logger.
func (c *Config) Logger() (*zap.Logger, error) {
	if c.Log.Level == "" {
		return zap.NewNop(), nil
	}
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
