package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// importsCmd represents the imports command
var importsCmd = &cobra.Command{
	Use:   "imports [module]",
	Short: "List imported functions",
	Long: `Lists the functions the program imports, optionally filtered to a
single module (e.g. kernel32).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		snap, err := loadSnapshot(cmd, cfg)
		if err != nil {
			return err
		}

		module := ""
		if len(args) == 1 {
			module = args[0]
		}
		imports := snap.IterImports(module)

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			data, err := json.MarshalIndent(imports, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		for _, imp := range imports {
			fmt.Printf("0x%X  %s!%s\n", imp.EA, imp.Module, imp.Name)
		}
		return nil
	},
}

// exportsCmd represents the exports command
var exportsCmd = &cobra.Command{
	Use:   "exports",
	Short: "List exported functions",
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

		exports := snap.Exports()

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			data, err := json.MarshalIndent(exports, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		for _, exp := range exports {
			fmt.Printf("0x%X  %s\n", exp.EA, exp.Name)
		}
		return nil
	},
}

func init() {
	importsCmd.Flags().Bool("json", false, "Output JSON")
	exportsCmd.Flags().Bool("json", false, "Output JSON")
}
