package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"appforge/internal/project"
)

var exportAppID string

// exportCmd checks out an app's stored files into a local directory.
var exportCmd = &cobra.Command{
	Use:   "export [dir]",
	Short: "Write an app's current files to a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportAppID, "app", "", "App ID")
	_ = exportCmd.MarkFlagRequired("app")
}

func runExport(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.close()

	files, err := e.store.GetAppFiles(exportAppID)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no stored files for app %s", exportAppID)
	}

	if err := project.WriteTree(args[0], files); err != nil {
		return err
	}
	fmt.Printf("Wrote %d files to %s\n", len(files), args[0])
	return nil
}
