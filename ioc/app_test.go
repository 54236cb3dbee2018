package ioc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/cfg"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/proxy"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/stats"
)

func testConfig(targets ...cfg.TargetSpec) cfg.Config {
	return cfg.Config{
		HTTPPort:    0,
		ServiceName: "blockproxy-test",
		Targets:     targets,
		MaxInflight: 16,
		NBD: cfg.NBDConfig{
			BlockSize:            4096,
			ConnectionsPerDevice: 1,
		},
	}
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, fx.ValidateApp(Options(testConfig(), zap.NewNop())))
}

func TestAppCreatesConfiguredTargets(t *testing.T) { //nolint:paralleltest // gin mode is global
	path := filepath.Join(t.TempDir(), "backing.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 64*1024), 0o600))

	var (
		registry *proxy.Registry
		store    *stats.Store
	)

	app := fxtest.New(t,
		Options(testConfig(cfg.TargetSpec{Name: "proxy0", Path: path}), zap.NewNop()),
		fx.Populate(&registry, &store),
	)
	app.RequireStart()

	target, ok := registry.Get("proxy0")
	require.True(t, ok)
	assert.Equal(t, path, target.Device.Path())

	size, err := target.Device.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024), size)

	app.RequireStop()
	assert.Empty(t, registry.List())
}

func TestAppFailsOnMissingBacking(t *testing.T) { //nolint:paralleltest // gin mode is global
	missing := filepath.Join(t.TempDir(), "missing.img")

	app := fx.New(Options(testConfig(cfg.TargetSpec{Name: "proxy0", Path: missing}), zap.NewNop()))

	err := app.Start(t.Context())
	require.Error(t, err)

	assert.Contains(t, err.Error(), proxy.ReasonDeviceCheck)
}

func TestIfBuilder(t *testing.T) {
	t.Parallel()

	var got string

	for _, cond := range []bool{true, false} {
		app := fxtest.New(t,
			If("cond", cond,
				fx.Provide(func() string { return "yes" }),
			).Else(
				fx.Provide(func() string { return "no" }),
			).Build(),
			fx.Populate(&got),
		)
		app.RequireStart().RequireStop()

		if cond {
			assert.Equal(t, "yes", got)
		} else {
			assert.Equal(t, "no", got)
		}
	}
}
