package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitalvas/fedsig/activitypub"
	"github.com/vitalvas/fedsig/httpsig"
	"github.com/vitalvas/fedsig/keystore"
	"github.com/vitalvas/fedsig/logger"
	"github.com/vitalvas/fedsig/metrics"
	"github.com/vitalvas/fedsig/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the actor, WebFinger and the signed inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			kp, err := keystore.Load(a.cfg.Keys.PrivatePath)
			if err != nil {
				return err
			}

			m, err := metrics.New(nil)
			if err != nil {
				return err
			}

			srv, err := server.New(server.Options{
				Config:     a.cfg,
				KeyPair:    kp,
				Metrics:    m,
				OnActivity: logActivity,
			})
			if err != nil {
				return err
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx)
		},
	}
}

func logActivity(ctx context.Context, activity *activitypub.Activity, sig *httpsig.Result) error {
	logger.From(ctx).Info("inbox activity",
		logger.ActivityType(activity.Type),
		logger.Actor(activity.ActorID()),
		logger.KeyID(sig.KeyID),
	)

	return nil
}
