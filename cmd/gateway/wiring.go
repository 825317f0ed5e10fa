package main

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/finflow-gateway/internal/cfg"
	"github.com/keithlinneman/finflow-gateway/internal/log"
	"github.com/keithlinneman/finflow-gateway/internal/metrics"
	"github.com/keithlinneman/finflow-gateway/internal/policyconfig"
	"github.com/keithlinneman/finflow-gateway/internal/ratelimit"
	"github.com/keithlinneman/finflow-gateway/internal/ratelimit/redisstore"
	"github.com/keithlinneman/finflow-gateway/internal/xerrors"
)

var policyNames = []string{ratelimit.PolicyGeneral, ratelimit.PolicyAuth, ratelimit.PolicyAPI}

// loadPolicies starts from the flag values and applies the SSM overrides
// document when one is configured. A bad document fails startup.
func loadPolicies(ctx context.Context, conf cfg.App, L log.Logger) (map[string]ratelimit.Policy, error) {
	policies := conf.Policies()
	if conf.PolicySSMParam == "" {
		return policies, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load aws config")
	}
	src := &policyconfig.SSMSource{
		Client: ssm.NewFromConfig(awsCfg),
		Param:  conf.PolicySSMParam,
		Known:  policyNames,
	}
	ov, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	policies, err = ov.Apply(policies)
	if err != nil {
		return nil, xerrors.Wrapf(err, "apply policy overrides from %s", conf.PolicySSMParam)
	}
	L.Info(ctx, "applied policy overrides", "ssm_param", conf.PolicySSMParam, "overridden", len(ov))
	return policies, nil
}

// store is what the limiters and the readiness probe need from a backend.
type store interface {
	ratelimit.Store
	Close() error
}

type memoryStore struct{ *ratelimit.MemoryStore }

func (memoryStore) Close() error { return nil }

// newStore builds the configured store. The memory store also gets a
// background sweeper and a tracked-windows gauge per policy.
func newStore(ctx context.Context, conf cfg.App, policies map[string]ratelimit.Policy, m *metrics.ServerMetrics) (store, error) {
	switch conf.StoreType {
	case cfg.StoreRedis:
		rs, err := redisstore.New(ctx, redisstore.Config{
			Addr:        conf.RedisAddr,
			Password:    conf.RedisPassword,
			DB:          conf.RedisDB,
			KeyPrefix:   conf.RedisKeyPrefix,
			DialTimeout: 3 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return rs, nil
	default:
		mem := ratelimit.NewMemoryStore()
		windows := make(map[string]time.Duration, len(policies))
		for name, p := range policies {
			windows[name] = p.Window
			if m != nil {
				if err := m.RegisterTrackedWindows(name, func() float64 { return float64(mem.Len(name)) }); err != nil {
					return nil, xerrors.Wrapf(err, "register tracked windows gauge (policy=%s)", name)
				}
			}
		}
		mem.StartSweeper(ctx, conf.SweepInterval, windows)
		return memoryStore{mem}, nil
	}
}

// newLimiters binds every policy to the shared store and wires its hooks to
// metrics and logs. Store errors are logged at most once per storeErrorLogEvery.
func newLimiters(ctx context.Context, policies map[string]ratelimit.Policy, st ratelimit.Store, m *metrics.ServerMetrics, L log.Logger) (map[string]*ratelimit.Limiter, error) {
	storeErrLog := &rate.Sometimes{First: 1, Interval: storeErrorLogEvery}

	out := make(map[string]*ratelimit.Limiter, len(policies))
	for name, p := range policies {
		lim, err := ratelimit.New(p, st,
			ratelimit.WithOnAdmitted(func(policy string) {
				m.IncRateLimitAdmitted(policy)
			}),
			ratelimit.WithOnDenied(func(policy, _ string) {
				m.IncRateLimitDenied(policy)
			}),
			// log once per client window, count every denial
			ratelimit.WithOnFirstDenied(func(policy, key string) {
				L.Warn(ctx, "rate limit triggered", "policy", policy, "client_ip", key)
			}),
			ratelimit.WithOnStoreError(func(rctx context.Context, policy string, err error) {
				m.IncRateLimitStoreError(policy)
				storeErrLog.Do(func() {
					log.FromContext(rctx).Error(rctx, err, "rate limit store failed, admitting request", "policy", policy)
				})
			}),
		)
		if err != nil {
			return nil, err
		}
		m.SetPolicy(name, p.Max, p.Window.Seconds())
		out[name] = lim
	}
	return out, nil
}

const storeErrorLogEvery = 10 * time.Second
