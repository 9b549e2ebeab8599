package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	generateAppID    string
	generateFollowUp bool
	generateDiff     bool
)

// generateCmd submits a job and runs it inline.
var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Generate or edit an app from a prompt",
	Long: `Submits a generation job and executes it immediately.

Without --follow-up the prompt produces a fresh app from the template.
With --follow-up the prompt edits the app's stored files; add --diff to
apply the edit as fuzzy diff hunks instead of regenerating files.

Example:
  appforge generate "a pomodoro timer with task list"
  appforge generate --app 3f2a... --follow-up --diff "make the timer ring twice"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateAppID, "app", "", "App ID (generated when empty)")
	generateCmd.Flags().BoolVar(&generateFollowUp, "follow-up", false, "Edit an existing app instead of generating a new one")
	generateCmd.Flags().BoolVar(&generateDiff, "diff", false, "Apply follow-up edits as diffs")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")
	if generateFollowUp && generateAppID == "" {
		return fmt.Errorf("--follow-up requires --app")
	}
	appID := generateAppID
	if appID == "" {
		appID = uuid.NewString()
	}

	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	j, err := e.store.CreateJob(appID, prompt, generateFollowUp, generateDiff)
	if err != nil {
		return err
	}
	logger.Info("job submitted", zap.String("job", j.ID), zap.String("app", appID))

	if err := e.worker.Process(ctx, j.ID); err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}

	done, err := e.store.GetJob(j.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Job:     %s\n", done.ID)
	fmt.Printf("App:     %s\n", done.AppID)
	fmt.Printf("Status:  %s\n", done.Status)
	if done.PreviewURL != "" {
		fmt.Printf("Preview: %s\n", done.PreviewURL)
	}
	if done.Error != "" {
		fmt.Printf("Error:   %s\n", done.Error)
	}

	patches, err := e.store.ListPatches(j.ID)
	if err == nil && len(patches) > 0 {
		fmt.Printf("Changed files:\n")
		for _, p := range patches {
			fmt.Printf("  %s\n", p.Filename)
		}
	}
	return nil
}
