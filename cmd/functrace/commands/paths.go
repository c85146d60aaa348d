package commands

import (
	"encoding/json"
	"fmt"

	"github.com/avasek/functrace/pkg/flowchart"
	"github.com/spf13/cobra"
)

// pathsCmd represents the paths command
var pathsCmd = &cobra.Command{
	Use:   "paths <address>",
	Short: "Enumerate execution paths reaching an address",
	Long: `Walks the flowchart of the function containing the address and prints
every acyclic path from the function entry to the block holding it.

Path counts grow combinatorially with branching; use --max to bound the
enumeration.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		snap, err := loadSnapshot(cmd, cfg)
		if err != nil {
			return err
		}

		ea, err := resolveAddr(snap, args[0])
		if err != nil {
			return err
		}

		fc, err := flowchart.New(snap, ea, nil)
		if err != nil {
			return fmt.Errorf("building flowchart: %w", err)
		}

		iter, err := fc.GetPaths(ea)
		if err != nil {
			return err
		}

		max, _ := cmd.Flags().GetInt("max")
		var paths [][]uint64
		for {
			if max > 0 && len(paths) >= max {
				break
			}
			pb, ok := iter.Next()
			if !ok {
				break
			}
			var starts []uint64
			for _, b := range pb.Blocks() {
				starts = append(starts, b.Start)
			}
			paths = append(paths, starts)
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			data, err := json.MarshalIndent(paths, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("%d path(s) to 0x%X:\n", len(paths), ea)
		for i, p := range paths {
			fmt.Printf("  %d:", i)
			for _, start := range p {
				fmt.Printf(" 0x%X", start)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	pathsCmd.Flags().Int("max", 0, "Maximum number of paths to print (0 = all)")
	pathsCmd.Flags().Bool("json", false, "Output JSON")
}
