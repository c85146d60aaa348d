package commands

import (
	"fmt"

	"github.com/avasek/functrace/pkg/disasm"
	"github.com/spf13/cobra"
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <pattern>",
	Short: "Search segment bytes with a regular expression",
	Long: `Runs a regular expression over the raw bytes of the snapshot's
segments and prints matches relocated to virtual addresses. Useful for
finding encrypted blobs or format markers before tracing their decoders.`,
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

		re, err := disasm.NewRegexp(snap, args[0])
		if err != nil {
			return fmt.Errorf("compiling pattern: %w", err)
		}

		segname, _ := cmd.Flags().GetString("segment")
		matches := re.FindAll(segname)
		if len(matches) == 0 {
			fmt.Println("no matches")
			return nil
		}

		for _, m := range matches {
			fmt.Printf("0x%X  %q\n", m.Start(0), m.Bytes(0))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().String("segment", "", "Restrict the search to one segment (e.g. .data)")
}
