package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var recalcUserID string

var recalcUsageCmd = &cobra.Command{
	Use:   "recalc-usage",
	Short: "Recompute stored usage for one user or for every user with sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		userIDs := []string{recalcUserID}
		if recalcUserID == "" {
			userIDs, err = a.sessionRepo.ListUserIDs(ctx)
			if err != nil {
				return err
			}
		}

		failed := 0
		for _, userID := range userIDs {
			snapshot, err := a.quotas.Recalculate(ctx, userID)
			if err != nil {
				failed++
				log.Error().Err(err).Str("user_id", userID).Msg("Usage recalculation failed")
				continue
			}
			log.Info().
				Str("user_id", userID).
				Int64("total_bytes", snapshot.TotalBytes).
				Int64("total_files", snapshot.TotalFiles).
				Int("sessions_failed", snapshot.SessionsFailed).
				Msg("Usage recalculated")
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d users could not be recalculated", failed, len(userIDs))
		}
		return nil
	},
}

func init() {
	recalcUsageCmd.Flags().StringVar(&recalcUserID, "user", "", "user id to recalculate (default: all users)")
}
