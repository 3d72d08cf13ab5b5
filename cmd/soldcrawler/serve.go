package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve run status and metrics over HTTP until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			srv, err := appInstance.Server()
			if err != nil {
				return err
			}
			return srv.ListenAndServe(cmd.Context(), serverAddr(appInstance))
		},
	}
}

// startServer runs the status server alongside a crawl when server.enabled is
// set. It stops when ctx ends.
func startServer(ctx context.Context, appInstance *app.App) error {
	if !appInstance.Config().Server.Enabled {
		return nil
	}
	srv, err := appInstance.Server()
	if err != nil {
		return err
	}
	go func() {
		if err := srv.ListenAndServe(ctx, serverAddr(appInstance)); err != nil {
			appInstance.Logger().Error("status server stopped", zap.Error(err))
		}
	}()
	return nil
}

func serverAddr(appInstance *app.App) string {
	port := appInstance.Config().Server.Port
	if port <= 0 {
		port = 8080
	}
	return fmt.Sprintf(":%d", port)
}
