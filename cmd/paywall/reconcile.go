package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	app "github.com/nightstudio/paywall/internal/app"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Retry purchase writes for payments that settled but were not recorded",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	application, err := app.Open(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("open application: %w", err)
	}
	defer application.Close()

	if application.Reconciler == nil {
		return errors.New("RECONCILE_JOURNAL is not configured")
	}
	report, err := application.Reconciler.RunOnce(cmd.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
