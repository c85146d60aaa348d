package commands

import (
	"encoding/json"
	"fmt"

	"github.com/avasek/functrace/pkg/flowchart"
	"github.com/spf13/cobra"
)

// blocksCmd represents the blocks command
var blocksCmd = &cobra.Command{
	Use:   "blocks <function|address>",
	Short: "Show the basic blocks of a function",
	Long: `Builds the flowchart of the function containing the given address and
prints its basic blocks in traversal order along with their edges.`,
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

		order, _ := cmd.Flags().GetString("order")
		reverse, _ := cmd.Flags().GetBool("reverse")
		start := flowchart.NoAddr
		if s, _ := cmd.Flags().GetString("start"); s != "" {
			start, err = resolveAddr(snap, s)
			if err != nil {
				return err
			}
		}

		var seq func(yield func(*flowchart.Block) bool)
		switch order {
		case "dfs":
			seq = fc.DFSBlocks(start, reverse)
		case "bfs":
			seq = fc.BFSBlocks(start, reverse)
		default:
			return fmt.Errorf("unknown traversal order %q (want dfs or bfs)", order)
		}

		type blockInfo struct {
			Start uint64   `json:"start"`
			End   uint64   `json:"end"`
			Succs []uint64 `json:"succs"`
			Preds []uint64 `json:"preds"`
		}
		var blocks []blockInfo
		for b := range seq {
			info := blockInfo{Start: b.Start, End: b.End}
			for _, s := range b.Succs() {
				info.Succs = append(info.Succs, s.Start)
			}
			for _, p := range b.Preds() {
				info.Preds = append(info.Preds, p.Start)
			}
			blocks = append(blocks, info)
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			data, err := json.MarshalIndent(blocks, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		fn := fc.Function()
		fmt.Printf("Function %s (0x%X :: 0x%X), %d blocks:\n", fn.Name, fn.Start, fn.End, len(fc.Blocks()))
		for _, b := range blocks {
			fmt.Printf("  0x%X :: 0x%X", b.Start, b.End)
			if len(b.Succs) > 0 {
				fmt.Print("  ->")
				for _, s := range b.Succs {
					fmt.Printf(" 0x%X", s)
				}
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	blocksCmd.Flags().String("order", "dfs", "Traversal order (dfs or bfs)")
	blocksCmd.Flags().Bool("reverse", false, "Traverse predecessors instead of successors")
	blocksCmd.Flags().String("start", "", "Start block address (default: function entry, or last block when reversed)")
	blocksCmd.Flags().Bool("json", false, "Output JSON")
}
