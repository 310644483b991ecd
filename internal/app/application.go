package app

import (
	"context"
	"fmt"

	"github.com/openshelf/library-service/internal/app/services/auth"
	"github.com/openshelf/library-service/internal/app/services/catalog"
	"github.com/openshelf/library-service/internal/app/services/lending"
	"github.com/openshelf/library-service/internal/app/services/overdue"
	"github.com/openshelf/library-service/internal/app/services/policy"
	userssvc "github.com/openshelf/library-service/internal/app/services/users"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/internal/app/storage/memory"
	"github.com/openshelf/library-service/internal/app/system"
	"github.com/openshelf/library-service/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Books  storage.BookStore
	Users  storage.UserStore
	Loans  storage.LoanStore
	Config storage.ConfigStore
}

// Options configures application construction.
type Options struct {
	Stores Stores

	// JWTSecret signs API tokens.
	JWTSecret string

	// SweepSchedule is the cron expression for the overdue sweep. Empty
	// means the default daily schedule. SweepDisabled leaves the sweep
	// runnable manually but unscheduled.
	SweepSchedule string
	SweepDisabled bool

	Logger *logger.Logger
}

// Application ties the domain services together and manages the lifecycle of
// the background sweep.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Catalog *catalog.Service
	Users   *userssvc.Service
	Auth    *auth.Service
	Lending *lending.Service
	Policy  *policy.Engine
	Sweeper *overdue.Sweeper
}

// New builds a fully initialised application.
func New(opts Options) (*Application, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("app")
	}

	stores := opts.Stores
	mem := memory.New()
	if stores.Books == nil {
		stores.Books = mem
	}
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Loans == nil {
		stores.Loans = mem
	}
	if stores.Config == nil {
		stores.Config = mem
	}

	engine := policy.New(stores.Config, log)
	catalogService := catalog.New(stores.Books, log)
	usersService := userssvc.New(stores.Users, stores.Loans, stores.Config, log)
	authService := auth.New(stores.Users, opts.JWTSecret, log)
	lendingService := lending.New(stores.Users, stores.Books, stores.Loans, engine, log)
	sweeper := overdue.NewSweeper(stores.Loans, stores.Users, engine, log)

	manager := system.NewManager()
	if !opts.SweepDisabled {
		schedule := opts.SweepSchedule
		if schedule == "" {
			schedule = overdue.DefaultSchedule
		}
		scheduler := overdue.NewScheduler(sweeper, schedule, log)
		if err := manager.Register(scheduler); err != nil {
			return nil, fmt.Errorf("register %s: %w", scheduler.Name(), err)
		}
	}

	return &Application{
		manager: manager,
		log:     log,
		Catalog: catalogService,
		Users:   usersService,
		Auth:    authService,
		Lending: lendingService,
		Policy:  engine,
		Sweeper: sweeper,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all background services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
