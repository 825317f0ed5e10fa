// Package prof pushes continuous profiles to Pyroscope.
package prof

import (
	"context"
	"net/url"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/finflow-gateway/internal/log"
	"github.com/keithlinneman/finflow-gateway/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	AuthToken     string
	TenantID      string
	Tags          map[string]string

	// MutexFraction and BlockRate feed runtime.SetMutexProfileFraction and
	// runtime.SetBlockProfileRate. Zero leaves the runtime setting alone and
	// drops the matching profile types.
	MutexFraction int
	BlockRate     int
}

// gatewayProfiles are always collected. Goroutines matter most here: every
// in-flight proxied request holds one.
var gatewayProfiles = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
}

// config validates opts and builds the pyroscope config.
func config(opts Options) (pyroscope.Config, error) {
	if opts.AppName == "" {
		return pyroscope.Config{}, xerrors.New("pyroscope app name is required")
	}
	u, err := url.Parse(opts.ServerAddress)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return pyroscope.Config{}, xerrors.Newf("invalid pyroscope server address %q", opts.ServerAddress)
	}

	types := append([]pyroscope.ProfileType(nil), gatewayProfiles...)
	if opts.MutexFraction > 0 {
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	}
	if opts.BlockRate > 0 {
		types = append(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
	}

	return pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		AuthToken:       opts.AuthToken,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		ProfileTypes:    types,
	}, nil
}

// Start begins profiling when enabled. The returned stop func is always
// usable and safe to call more than once.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx).With("pyro_server", opts.ServerAddress, "app_name", opts.AppName)
	if !opts.Enabled {
		L.Debug(ctx, "pyroscope disabled")
		return func() {}, nil
	}

	cfg, err := config(opts)
	if err != nil {
		return func() {}, err
	}
	if opts.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.MutexFraction)
	}
	if opts.BlockRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockRate)
	}

	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		return func() {}, xerrors.Wrap(err, "start pyroscope")
	}
	L.Info(ctx, "pyroscope started", "profile_types", len(cfg.ProfileTypes))

	var once sync.Once
	return func() {
		once.Do(func() {
			profiler.Stop()
			L.Info(context.Background(), "pyroscope stopped")
		})
	}, nil
}
