package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/avasek/functrace/internal/config"
	"github.com/avasek/functrace/pkg/flowchart"
	"github.com/spf13/cobra"
)

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks on configuration and snapshot",
	Long: `Checks the configuration, verifies that the configured snapshot loads,
and reports what it contains.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, configPath, err := loadConfigWithPath(cmd)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if configPath == "" {
			fmt.Println("config:   using defaults (no config file found, run 'functrace init')")
		} else {
			fmt.Printf("config:   %s\n", configPath)
		}
		fmt.Printf("          max_paths=%d flowchart_cache_size=%d\n", cfg.MaxPaths, cfg.FlowchartCacheSize)

		snap, err := loadSnapshot(cmd, cfg)
		if err != nil {
			fmt.Printf("snapshot: %v\n", err)
			return fmt.Errorf("health check failed: snapshot is not loadable")
		}

		arch := snap.Arch()
		order := "little endian"
		if arch.ByteOrder.String() == "BigEndian" {
			order = "big endian"
		}
		fmt.Printf("snapshot: %d-bit, %s\n", arch.Bits, order)
		fmt.Printf("          %d function(s), %d segment(s), %d import(s), %d export(s)\n",
			len(snap.Functions()), len(snap.SegmentsList()), len(snap.Imports()), len(snap.Exports()))

		// Smoke-test flowchart construction on the first function.
		if fns := snap.Functions(); len(fns) > 0 {
			fc, err := flowchart.New(snap, fns[0].Start, nil)
			if err != nil {
				fmt.Printf("flowchart: %v\n", err)
				return fmt.Errorf("health check failed: cannot build a flowchart")
			}
			fmt.Printf("flowchart: %s builds with %d block(s)\n", fns[0].Name, len(fc.Blocks()))
		}

		fmt.Println("OK")
		return nil
	},
}

// loadConfigWithPath loads config and reports which file supplied it.
func loadConfigWithPath(cmd *cobra.Command) (*config.Config, string, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err := config.LoadFromFile(path)
		return cfg, path, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}

	projectPath := filepath.Join(".functrace", "config.yaml")
	if fileExists(projectPath) {
		return cfg, projectPath, nil
	}
	if home, herr := os.UserHomeDir(); herr == nil {
		globalPath := filepath.Join(home, ".functrace", "config.yaml")
		if fileExists(globalPath) {
			return cfg, globalPath, nil
		}
	}
	return cfg, "", nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
