package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"variantcore/internal/core"
	"variantcore/internal/deprecation"
)

var deprecateFlags struct {
	input      string
	assemblies []string
	suffix     string
}

var deprecateCmd = &cobra.Command{
	Use:   "deprecate",
	Short: "Deprecate submitted variants or orphaned RS accessions",
	Long: "With --input, deprecates the listed submitted variants and any RS left\n" +
		"without submissions. Without it, deprecates every RS in the assemblies\n" +
		"that no submitted variant references.",
	RunE: runDeprecate,
}

func init() {
	f := deprecateCmd.Flags()
	f.StringVar(&deprecateFlags.input, "input", "", "JSON lines file of submitted variants to deprecate")
	f.StringSliceVar(&deprecateFlags.assemblies, "assembly", nil, "Assembly to deprecate in (repeatable)")
	f.StringVar(&deprecateFlags.suffix, "suffix", "", "Run suffix for deprecation operation ids, defaults to the configured one")
}

func runDeprecate(cmd *cobra.Command, _ []string) error {
	var jobs []core.DeprecationJob
	only := splitList(deprecateFlags.assemblies)
	if deprecateFlags.input != "" {
		in, err := openInput(deprecateFlags.input, cmd.InOrStdin())
		if err != nil {
			return err
		}
		variants, err := readVariants(in)
		_ = in.Close()
		if err != nil {
			return err
		}
		groups, names := byAssembly(variants, only)
		for _, name := range names {
			jobs = append(jobs, core.DeprecationJob{Assembly: name, Submitted: groups[name]})
		}
	} else {
		for _, name := range only {
			jobs = append(jobs, core.DeprecationJob{Assembly: name})
		}
	}
	if len(jobs) == 0 {
		return fmt.Errorf("nothing to deprecate: pass --assembly or --input")
	}

	rt, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer rt.close(cmd.Context())

	opts := deprecation.Options{
		Suffix:          rt.cfg.Deprecation.Suffix,
		ClusteredReason: rt.cfg.Deprecation.ClusteredReason,
		SubmittedReason: rt.cfg.Deprecation.SubmittedReason,
	}
	if deprecateFlags.suffix != "" {
		opts.Suffix = deprecateFlags.suffix
	}
	summary, err := rt.service.Deprecate(cmd.Context(), opts, jobs)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), summary)
}
