package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sokomart/api/internal/platform/config"
	"github.com/sokomart/api/internal/repositories"
	"github.com/sokomart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout  services.CheckoutService
	Orders    services.OrderService
	Stores    services.StoreService
	Logistics services.LogisticsService
	Payments  services.PaymentService
	Media     services.MediaService
	Counters  services.CounterService
	Audit     services.AuditLogService
	System    services.SystemService
}

// Deps carries the external collaborators the service layer needs beyond the
// repository registry: the PSP gateway, the event publisher, and the signed
// upload URL issuer.
type Deps struct {
	Gateway     services.PaymentGateway
	Refunds     services.RefundGateway
	Events      services.OrderEventPublisher
	MediaSigner services.UploadURLSigner
	MediaBucket string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Clock       func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and fakes.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Deps) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: reg.AuditLogs(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	storeSvc, err := services.NewStoreService(services.StoreServiceDeps{
		Stores: reg.Stores(),
		Clock:  clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build store service: %w", err)
	}
	svc.Stores = storeSvc

	logisticsSvc, err := services.NewLogisticsService(services.LogisticsServiceDeps{
		Options: reg.LogisticsOptions(),
		Stores:  reg.Stores(),
		Clock:   clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build logistics service: %w", err)
	}
	svc.Logistics = logisticsSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:           reg.Orders(),
		LogisticsOptions: reg.LogisticsOptions(),
		Counters:         counterSvc,
		Events:           deps.Events,
		Logger:           deps.Logger,
		Clock:            clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		AuditLogs: auditSvc,
		Events:    deps.Events,
		Refunds:   deps.Refunds,
		Logger:    deps.Logger,
		Clock:     clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if deps.Gateway != nil {
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Orders:       reg.Orders(),
			OrderService: orderSvc,
			Gateway:      deps.Gateway,
			Logger:       deps.Logger,
			Clock:        clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	mediaBucket := strings.TrimSpace(deps.MediaBucket)
	if mediaBucket == "" {
		mediaBucket = strings.TrimSpace(cfg.Storage.MediaBucket)
	}
	if deps.MediaSigner != nil && mediaBucket != "" {
		mediaSvc, err := services.NewMediaService(services.MediaServiceDeps{
			Stores: reg.Stores(),
			Signer: deps.MediaSigner,
			Bucket: mediaBucket,
			Logger: deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build media service: %w", err)
		}
		svc.Media = mediaSvc
	}

	return svc, nil
}
