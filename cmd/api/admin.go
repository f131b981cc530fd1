package main

import (
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/prescription-api/internal/model"
	"github.com/jwalitptl/prescription-api/internal/repository/sqlstore"
	"github.com/jwalitptl/prescription-api/pkg/metrics"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			// bootstrap already applies the schema
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Info().Msg("schema is up to date")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo doctor, patient and queue ticket if absent",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.seed(cmd.Context())
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair drift between stored documents and prescription records",
		Long: `Removes orphan documents and interrupted writes, and marks records whose
document is missing as Generation Failed. Files younger than a minute are left
alone, but prefer running this while serve is stopped: the write lock only
covers a single process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			_, prescriptionSvc := a.services(a.store(), metrics.New(prometheus.NewRegistry(), metricsNamespace))
			report, err := prescriptionSvc.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

type inspection struct {
	Users         []model.User                `json:"users"`
	QueueTickets  []*model.QueueTicket        `json:"queue_tickets"`
	Prescriptions []*model.PrescriptionRecord `json:"prescription_records"`
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print users, queue tickets and prescription records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var out inspection

			if out.Users, err = sqlstore.NewUserRepository(a.db).List(ctx); err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}
			if out.QueueTickets, err = sqlstore.NewQueueRepository(a.db).List(ctx); err != nil {
				return fmt.Errorf("failed to list queue tickets: %w", err)
			}
			if out.Prescriptions, err = sqlstore.NewPrescriptionRepository(a.db).List(ctx); err != nil {
				return fmt.Errorf("failed to list prescription records: %w", err)
			}
			return printJSON(cmd, out)
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
