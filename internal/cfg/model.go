package cfg

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Debug       bool   `env:"BLOCKPROXY_DEBUG"`
	HTTPPort    uint16 `env:"HTTP_PORT"    envDefault:"5010"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"blockproxy"`

	OtelCollectorGRPCEndpoint string        `env:"OTEL_COLLECTOR_GRPC_ENDPOINT"`
	MetricExportPeriod        time.Duration `env:"METRIC_EXPORT_PERIOD"         envDefault:"15s"`

	Targets     []TargetSpec `env:"PROXY_TARGETS"`
	ReadOnly    bool         `env:"PROXY_READ_ONLY"`
	MaxInflight int64        `env:"PROXY_MAX_INFLIGHT" envDefault:"256"`

	NBD NBDConfig
}

type NBDConfig struct {
	Enabled              bool   `env:"NBD_ENABLED"`
	BlockSize            uint64 `env:"NBD_BLOCK_SIZE"             envDefault:"4096"`
	ConnectionsPerDevice int    `env:"NBD_CONNECTIONS_PER_DEVICE" envDefault:"4"`
}

// TargetSpec names a proxy device and the backing device it forwards to.
type TargetSpec struct {
	Name string
	Path string
}

func (t TargetSpec) String() string {
	return t.Name + "=" + t.Path
}

func ParseTargetSpec(value string) (any, error) {
	name, path, ok := strings.Cut(strings.TrimSpace(value), "=")
	if !ok || name == "" || path == "" {
		return nil, fmt.Errorf("invalid target %q, expected name=path", value)
	}

	return TargetSpec{Name: name, Path: path}, nil
}

func Parse() (Config, error) {
	config, err := env.ParseAsWithOptions[Config](env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(TargetSpec{}): ParseTargetSpec,
		},
	})
	if err != nil {
		return Config{}, err
	}

	if config.MaxInflight <= 0 {
		return Config{}, fmt.Errorf("PROXY_MAX_INFLIGHT must be positive, got %d", config.MaxInflight)
	}

	if config.NBD.BlockSize < 512 || config.NBD.BlockSize&(config.NBD.BlockSize-1) != 0 {
		return Config{}, fmt.Errorf("NBD_BLOCK_SIZE must be a power of two of at least 512, got %d", config.NBD.BlockSize)
	}

	return config, nil
}
