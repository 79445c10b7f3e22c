// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/services/planner/datatypes"
)

// httpClient has no overall timeout: the start command holds its SSE
// response open for the whole run.
var httpClient = &http.Client{}

func pipelineURL(jobID, suffix string) string {
	u := fmt.Sprintf("%s/v1/pipelines/%s%s", strings.TrimRight(serverURL, "/"), jobID, suffix)
	sep := "?"
	if strings.Contains(suffix, "?") {
		sep = "&"
	}
	return u + sep + "workflow=" + workflowName
}

func newStartCmd() *cobra.Command {
	var inputFile string

	cmd := &cobra.Command{
		Use:   "start <job-id>",
		Short: "Start or resume a pipeline run and stream its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body io.Reader
			if inputFile != "" {
				raw, err := os.ReadFile(inputFile)
				if err != nil {
					return fmt.Errorf("read input file: %w", err)
				}
				body = bytes.NewReader(raw)
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				pipelineURL(args[0], "/start"), body)
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "text/event-stream")

			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("connect to planner: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return apiError(resp)
			}
			return streamEvents(resp.Body)
		},
	}
	cmd.Flags().StringVarP(&inputFile, "file", "f", "",
		"JSON file with workflow inputs (omit to resume a paused run)")
	return cmd
}

// streamEvents renders the SSE stream line by line. Returns an error
// when the run ends on an error event, so the exit code reflects the
// run's outcome.
func streamEvents(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var failed error
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev datatypes.PipelineEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		printEvent(ev)
		if ev.Type == datatypes.EventError {
			failed = fmt.Errorf("run failed in phase %s: %s", ev.Phase, ev.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	return failed
}

func printEvent(ev datatypes.PipelineEvent) {
	ts := time.UnixMilli(ev.CreatedAt).Format("15:04:05")
	switch ev.Type {
	case datatypes.EventProgress:
		fmt.Printf("%s %s [%3d%%] %s\n", ts, colorize("►", colorBlue), ev.Percent, ev.Message)
	case datatypes.EventQualityEvaluated, datatypes.EventStructurePlanned, datatypes.EventModulesGenerated:
		fmt.Printf("%s %s %s\n", ts, colorize("•", colorCyan), ev.Message)
	case datatypes.EventError:
		fmt.Printf("%s %s %s\n", ts, colorize("✗", colorRed), ev.Error)
	case datatypes.EventComplete:
		fmt.Printf("%s %s %s\n", ts, colorize("✓", colorGreen), ev.Message)
	default:
		fmt.Printf("%s   [%s] %s\n", ts, ev.Type, ev.Message)
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the stored disposition of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				pipelineURL(args[0], "/status"), nil)
			if err != nil {
				return err
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return apiError(resp)
			}

			var status datatypes.StatusResponse
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return err
			}
			if !status.HasCheckpoint {
				fmt.Printf("job %s (%s): no checkpoint\n", status.JobID, status.Workflow)
				return nil
			}
			fmt.Printf("job %s (%s)\n", status.JobID, status.Workflow)
			fmt.Printf("  status:  %s\n", status.Status)
			fmt.Printf("  phase:   %s\n", status.Phase)
			fmt.Printf("  percent: %d%%\n", status.Percent)
			if status.Message != "" {
				fmt.Printf("  message: %s\n", status.Message)
			}
			return nil
		},
	}
}

func newPauseCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "pause <job-id>",
		Short: "Request a pause at the next phase boundary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := json.Marshal(datatypes.PauseRequest{Reason: reason})
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				pipelineURL(args[0], "/pause"), bytes.NewReader(raw))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusAccepted {
				return apiError(resp)
			}
			fmt.Printf("pause requested for job %s (%s)\n", args[0], workflowName)
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "reason recorded on the checkpoint")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <job-id>",
		Short: "Delete a job's checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodDelete,
				pipelineURL(args[0], ""), nil)
			if err != nil {
				return err
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusNoContent {
				return apiError(resp)
			}
			fmt.Printf("cleared job %s (%s)\n", args[0], workflowName)
			return nil
		},
	}
}

// apiError turns a non-success response into a readable error.
func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, payload.Error)
	}
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
}

// =============================================================================
// Terminal colors
// =============================================================================

const (
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
	colorReset = "\033[0m"
)

var stdoutIsTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

func colorize(s, color string) string {
	if !stdoutIsTTY {
		return s
	}
	return color + s + colorReset
}
