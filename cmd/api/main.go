package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwalitptl/prescription-api/internal/config"
	"github.com/jwalitptl/prescription-api/internal/render"
	"github.com/jwalitptl/prescription-api/internal/repository/sqlstore"
	"github.com/jwalitptl/prescription-api/internal/service/lookup"
	"github.com/jwalitptl/prescription-api/internal/service/prescription"
	"github.com/jwalitptl/prescription-api/internal/storage"
	"github.com/jwalitptl/prescription-api/pkg/logger"
	"github.com/jwalitptl/prescription-api/pkg/metrics"
	"github.com/jwalitptl/prescription-api/pkg/security"
)

const metricsNamespace = "prescription_api"

func main() {
	rootCmd := &cobra.Command{
		Use:           "prescription-api",
		Short:         "Clinic e-prescription API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "path to a config file (defaults to ./config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(inspectCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is what every subcommand needs before doing its own work.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	db     *sqlx.DB
}

func bootstrap(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	db, err := sqlstore.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("connected to database")

	if err := sqlstore.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}

	return &app{cfg: cfg, logger: log, db: db}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error().Err(err).Msg("failed to close database")
	}
}

func (a *app) seed(ctx context.Context) error {
	seeder := sqlstore.NewSeeder(a.db, security.NewBcryptHasher(bcrypt.DefaultCost), func() time.Time {
		return time.Now().In(a.cfg.Location())
	})
	result, err := seeder.EnsureSeedData(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed database: %w", err)
	}
	a.logger.Info().
		Bool("doctor_created", result.DoctorCreated).
		Bool("patient_created", result.PatientCreated).
		Bool("ticket_created", result.TicketCreated).
		Msg("seed data checked")
	return nil
}

func (a *app) store() *storage.Store {
	return storage.NewStore(afero.NewOsFs(), a.cfg.Storage.OutputDir, a.cfg.Storage.Timeout)
}

func (a *app) services(store *storage.Store, m *metrics.Metrics) (*lookup.Service, *prescription.Service) {
	lookupSvc := lookup.NewService(
		sqlstore.NewUserRepository(a.db),
		sqlstore.NewQueueRepository(a.db),
	)

	prescriptionSvc := prescription.NewService(
		lookupSvc,
		sqlstore.NewPrescriptionRepository(a.db),
		store,
		m,
		a.logger,
		prescription.Config{
			Location: a.cfg.Location(),
			Render:   render.Options{FlowPatientBlock: a.cfg.Render.FlowPatientBlock},
			Timeout:  a.cfg.Storage.Timeout,
		},
	)
	return lookupSvc, prescriptionSvc
}
