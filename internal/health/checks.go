package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hellofresh/health-go/v5"
	healthRedis "github.com/hellofresh/health-go/v5/checks/redis"
	"github.com/tiendamovil/cartsync/internal/config"
	"github.com/tiendamovil/cartsync/internal/storage"
)

type Endpoints struct {
	Store *storage.Store
}

func NewHealthHandler(cfg *config.Config, endpoints *Endpoints) (*health.Health, error) {

	checks := []health.Config{
		{
			Name:      "storage",
			Timeout:   3 * time.Second,
			SkipOnErr: false,
			Check: func(ctx context.Context) error {
				if endpoints.Store == nil {
					return fmt.Errorf("storage is not initialized")
				}
				return endpoints.Store.Ping(ctx)
			},
		},
		{
			Name:    "remote-api",
			Timeout: 5 * time.Second,
			// the engine works local-only when the backend is down
			SkipOnErr: true,
			Check: func(ctx context.Context) error {

				req, err := http.NewRequestWithContext(ctx, http.MethodHead, cfg.RemoteAPI.BaseURL, nil)
				if err != nil {
					return fmt.Errorf("failed to build reachability probe: %w", err)
				}

				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return fmt.Errorf("remote api unreachable: %w", err)
				}

				_ = resp.Body.Close()

				return nil
			},
		},
	}

	if cfg.CacheConfig.Backend == "redis" {
		checks = append(checks, health.Config{
			Name:      "redis",
			Timeout:   2 * time.Second,
			SkipOnErr: true,
			Check: healthRedis.New(
				healthRedis.Config{
					DSN: cfg.RedisConnect.GetDSN(),
				},
			),
		})
	}

	h, err := health.New(
		health.WithComponent(health.Component{
			Name:    "cartsync",
			Version: "1.0.0",
		}),
		health.WithSystemInfo(),
		health.WithChecks(checks...),
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create health instance: %w", err)
	}

	return h, nil
}
