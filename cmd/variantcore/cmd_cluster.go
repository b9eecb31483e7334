package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"variantcore/internal/clustering"
	"variantcore/internal/core"
)

var clusterFlags struct {
	input      string
	assemblies []string
	ingest     bool
	clustered  bool
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Assign RS accessions to submitted variants",
	Long: "Reads submitted variants as JSON lines, clusters them per assembly and\n" +
		"resolves the merge and split candidates the run produces.",
	RunE: runCluster,
}

func init() {
	f := clusterCmd.Flags()
	f.StringVar(&clusterFlags.input, "input", "-", "JSON lines file of submitted variants, - for stdin")
	f.StringSliceVar(&clusterFlags.assemblies, "assembly", nil, "Only cluster these assemblies")
	f.BoolVar(&clusterFlags.ingest, "ingest", true, "Store the submitted variants before clustering them")
	f.BoolVar(&clusterFlags.clustered, "clustered", false, "Trust the rs carried by the input instead of re-reading it")
}

func runCluster(cmd *cobra.Command, _ []string) error {
	in, err := openInput(clusterFlags.input, cmd.InOrStdin())
	if err != nil {
		return err
	}
	variants, err := readVariants(in)
	_ = in.Close()
	if err != nil {
		return err
	}
	groups, names := byAssembly(variants, splitList(clusterFlags.assemblies))
	if len(names) == 0 {
		return fmt.Errorf("no submitted variants to cluster")
	}

	rt, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer rt.close(cmd.Context())

	mode := clustering.NotClustered
	if clusterFlags.clustered {
		mode = clustering.Clustered
	}
	jobs := make([]core.Job, 0, len(names))
	for _, name := range names {
		jobs = append(jobs, core.Job{Assembly: name, Variants: groups[name], Mode: mode, Remapped: clusterFlags.ingest})
	}
	summary, err := rt.service.Run(cmd.Context(), jobs)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), summary)
}
