package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var splitFlags struct {
	assemblies []string
}

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split RS accessions whose submitted variants map to different sites",
	RunE:  runSplit,
}

func init() {
	f := splitCmd.Flags()
	f.StringSliceVar(&splitFlags.assemblies, "assembly", nil, "Assembly to scan (repeatable)")
	_ = splitCmd.MarkFlagRequired("assembly")
}

func runSplit(cmd *cobra.Command, _ []string) error {
	assemblies := splitList(splitFlags.assemblies)
	if len(assemblies) == 0 {
		return fmt.Errorf("--assembly is required")
	}
	rt, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer rt.close(cmd.Context())

	summary, err := rt.service.Split(cmd.Context(), assemblies)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), summary)
}
