// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// planctl is the operator CLI for the planner service: start or resume
// runs (streaming their events to the terminal), inspect status, pause
// and clear jobs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	workflowName string
)

func main() {
	root := &cobra.Command{
		Use:           "planctl",
		Short:         "Control the planner pipeline service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server",
		envOr("PLANNER_URL", "http://localhost:12300"), "planner service base URL")
	root.PersistentFlags().StringVar(&workflowName, "workflow", "blueprint",
		"workflow type (blueprint or module_batch)")

	root.AddCommand(newStartCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newPauseCmd())
	root.AddCommand(newClearCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
