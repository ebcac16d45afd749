// Package main provides a stub LUIS authoring and NLU parse backend for
// exercising the proxy locally. Replies have the shape of the real
// services; /__status/{code} returns an arbitrary status.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var (
		port int
		key  string
	)

	cmd := &cobra.Command{
		Use:          "fakeluis",
		Short:        "Stub LUIS backend for local testing",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			addr := fmt.Sprintf(":%d", port)
			logger.Info("fakeluis listening", "addr", addr, "key_required", key != "")
			return http.ListenAndServe(addr, newMux(key, logger))
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 3001, "port to listen on")
	cmd.Flags().StringVar(&key, "key", os.Getenv("LUIS_APP_KEY"), "subscription key required on authoring calls; empty accepts any")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
