package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/sokomart/api/internal/platform/firestore"
	"github.com/sokomart/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the repositories.Registry
// contract and owns the client lifecycle.
type Registry struct {
	provider *pfirestore.Provider

	stores    *StoreRepository
	logistics *LogisticsOptionRepository
	orders    *OrderRepository
	auditLogs *AuditLogRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

// NewRegistry wires the repository set over the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	stores, err := NewStoreRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build store repository: %w", err)
	}
	logistics, err := NewLogisticsOptionRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build logistics option repository: %w", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	auditLogs, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build audit log repository: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name:  "firestore",
			Check: firestorePing(provider),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	return &Registry{
		provider:  provider,
		stores:    stores,
		logistics: logistics,
		orders:    orders,
		auditLogs: auditLogs,
		counters:  counters,
		health:    health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Stores() repositories.StoreRepository { return r.stores }

func (r *Registry) LogisticsOptions() repositories.LogisticsOptionRepository { return r.logistics }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.auditLogs }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// firestorePing probes connectivity with a single document read. A NotFound
// answer still proves the backend is reachable.
func firestorePing(provider *pfirestore.Provider) func(context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		_, err = client.Collection(countersCollection).Doc("healthcheck").Get(ctx)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return err
	}
}

// Ensure interface compliance.
var _ repositories.Registry = (*Registry)(nil)
