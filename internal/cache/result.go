package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var errTenantRequired = errors.New("tenantID is required")

// byteStore is the tenant-scoped key/value surface each tier provides.
// Scoring results are stored on top of it as JSON.
type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func resultKey(txID string) string {
	return "result:" + txID
}

func getResult(ctx context.Context, s byteStore, tenantID, txID string) (*domain.ScoringResult, error) {
	data, err := s.Get(ctx, tenantID, resultKey(txID))
	if err != nil || data == nil {
		return nil, err
	}

	var result domain.ScoringResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached result %s: %w", txID, err)
	}
	return &result, nil
}

func setResult(ctx context.Context, s byteStore, tenantID, txID string, result *domain.ScoringResult, ttl time.Duration) error {
	if result == nil {
		return errors.New("result is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result %s: %w", txID, err)
	}
	return s.Set(ctx, tenantID, resultKey(txID), data, ttl)
}
