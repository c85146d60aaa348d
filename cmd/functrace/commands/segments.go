package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// segmentsCmd represents the segments command
var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "List memory segments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		snap, err := loadSnapshot(cmd, cfg)
		if err != nil {
			return err
		}

		type segInfo struct {
			Name  string `json:"name"`
			Start uint64 `json:"start"`
			End   uint64 `json:"end"`
			Bytes int    `json:"bytes"`
		}
		var segs []segInfo
		for _, s := range snap.SegmentsList() {
			segs = append(segs, segInfo{Name: s.Name, Start: s.Start, End: s.End, Bytes: len(s.Data)})
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			data, err := json.MarshalIndent(segs, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		for _, s := range segs {
			fmt.Printf("%-12s 0x%X :: 0x%X (%d bytes of data)\n", s.Name, s.Start, s.End, s.Bytes)
		}
		return nil
	},
}

func init() {
	segmentsCmd.Flags().Bool("json", false, "Output JSON")
}
