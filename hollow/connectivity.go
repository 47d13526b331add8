package hollow

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
)

// Connectivity is what a producer check found.
type Connectivity struct {
	Status   string
	Datasets []DatasetInfo
	// DatasetsErr is set when the status call worked but listing datasets did not.
	DatasetsErr error
}

// CheckConnectivity probes /api/status, retrying up to attempts times, then
// lists datasets. Only the status call decides success.
func CheckConnectivity(ctx context.Context, c *Client, attempts uint, delay time.Duration) (*Connectivity, error) {
	if attempts == 0 {
		attempts = 1
	}
	var st *ProducerStatus
	err := retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}
			s, err := c.Status(ctx)
			if err != nil {
				return err
			}
			st = s
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.Log.Warn("producer status check failed", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("producer %s unreachable: %w", c.BaseURL, err)
	}

	res := &Connectivity{Status: st.Status}
	if res.Status == "" {
		res.Status = "Unknown"
	}
	res.Datasets, res.DatasetsErr = c.Datasets(ctx)
	return res, nil
}
