package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var jobsAppID string

// jobsCmd inspects stored jobs.
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List and inspect generation jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an app's jobs, newest first",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show [job-id]",
	Short: "Show one job and its patches",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsAppID, "app", "", "App ID")
	_ = jobsListCmd.MarkFlagRequired("app")
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.close()

	jobs, err := e.store.ListJobs(jobsAppID, 50)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs.")
		return nil
	}
	for _, j := range jobs {
		kind := "initial"
		if j.IsFollowUp {
			kind = "follow-up"
			if j.UseDiffBased {
				kind = "follow-up/diff"
			}
		}
		fmt.Printf("%s  %-10s  %-14s  %s\n", j.ID, j.Status, kind, truncatePrompt(j.Prompt))
	}
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.close()

	j, err := e.store.GetJob(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Job:      %s\n", j.ID)
	fmt.Printf("App:      %s\n", j.AppID)
	fmt.Printf("Status:   %s\n", j.Status)
	fmt.Printf("Prompt:   %s\n", j.Prompt)
	fmt.Printf("Created:  %s\n", j.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if j.PreviewURL != "" {
		fmt.Printf("Preview:  %s\n", j.PreviewURL)
	}
	if j.Error != "" {
		fmt.Printf("Error:    %s\n", j.Error)
	}

	patches, err := e.store.ListPatches(j.ID)
	if err != nil {
		return err
	}
	for _, p := range patches {
		fmt.Printf("\n--- %s ---\n%s", p.Filename, p.UnifiedDiff)
	}
	return nil
}

func truncatePrompt(s string) string {
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
