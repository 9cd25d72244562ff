package firestore

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/fernwell/api/internal/platform/firestore"
)

const healthCheckTimeout = 2 * time.Second

// HealthRepository probes Firestore connectivity for readiness checks.
type HealthRepository struct {
	provider *pfirestore.Provider
}

// NewHealthRepository constructs a HealthRepository.
func NewHealthRepository(provider *pfirestore.Provider) (*HealthRepository, error) {
	if provider == nil {
		return nil, errors.New("health repository requires firestore provider")
	}
	return &HealthRepository{provider: provider}, nil
}

// Check performs a lightweight read against a sentinel document. A missing
// document counts as healthy; only transport failures are reported.
func (r *HealthRepository) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection("health").Doc("probe").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("health.check", err)
	}
	return nil
}
