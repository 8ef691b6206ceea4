package main

import (
	"context"
	"fmt"

	"intelboard/internal/config"
	"intelboard/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture one analytics snapshot now",
	Long:  `Reads the current aggregate counters and appends one immutable analytics snapshot row.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{TranslateError: true})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}

		svc := services.NewSnapshotService(db, logrus.StandardLogger())
		snap, err := svc.Capture(context.Background())
		if err != nil {
			return err
		}
		if snap == nil {
			fmt.Println("capture skipped (already in flight or duplicate timestamp)")
			return nil
		}
		fmt.Printf("captured snapshot %d at %s\n", snap.ID, snap.CapturedAt)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)
}
