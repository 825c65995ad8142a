// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"time"

	"compliance-workflow/internal/common/config"
	"compliance-workflow/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/cenkalti/backoff/v4"
)

// NewClient connects to the Zeebe gateway and waits until the topology
// request succeeds, retrying with exponential backoff for up to maxWait.
func NewClient(ctx context.Context, cfg config.CamundaConfig, maxWait time.Duration, log logger.Logger) (zbc.Client, error) {
	client, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         cfg.BrokerAddress,
		UsePlaintextConnection: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait
	err = backoff.RetryNotify(func() error {
		return HealthCheck(ctx, client, config.GetDuration(cfg.RequestTimeout))
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.Warn("zeebe gateway not ready", map[string]interface{}{
			"address": cfg.BrokerAddress,
			"error":   err.Error(),
			"retryIn": next.String(),
		})
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Zeebe broker at %s: %w", cfg.BrokerAddress, err)
	}
	return client, nil
}

// HealthCheck sends a topology request to the gateway.
func HealthCheck(ctx context.Context, client zbc.Client, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := client.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe health check failed: %w", err)
	}
	return nil
}
