package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/avasek/functrace/internal/config"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize functrace configuration interactively",
	Long: `Guides you through setting up functrace configuration step by step.
Creates a config file with the default snapshot, architecture overrides
and tracing limits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit()
	},
}

func runInit() error {
	cfg := config.DefaultConfig()

	snapshotPath := ""
	bitsChoice := "auto"
	orderChoice := "auto"
	maxPaths := strconv.Itoa(cfg.MaxPaths)
	verbose := false

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Default snapshot file").
				Description("Program snapshot loaded when --snapshot is not given (leave empty for none)").
				Placeholder("sample.snapshot.yaml").
				Value(&snapshotPath),
			huh.NewSelect[string]().
				Title("Architecture word size").
				Description("Override the word size recorded in the snapshot").
				Options(
					huh.NewOption("Trust the snapshot", "auto"),
					huh.NewOption("16-bit", "16"),
					huh.NewOption("32-bit", "32"),
					huh.NewOption("64-bit", "64"),
				).
				Value(&bitsChoice),
			huh.NewSelect[string]().
				Title("Byte order").
				Options(
					huh.NewOption("Trust the snapshot", "auto"),
					huh.NewOption("Little endian", "little"),
					huh.NewOption("Big endian", "big"),
				).
				Value(&orderChoice),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Maximum paths per trace").
				Description("-1 means unlimited; branchy functions can have very many paths").
				Value(&maxPaths),
			huh.NewConfirm().
				Title("Enable verbose logging?").
				Value(&verbose),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}

	cfg.SnapshotPath = snapshotPath
	if bitsChoice != "auto" {
		cfg.Bits, _ = strconv.Atoi(bitsChoice)
	}
	if orderChoice != "auto" {
		cfg.ByteOrder = orderChoice
	}
	if n, err := strconv.Atoi(maxPaths); err == nil {
		cfg.MaxPaths = n
	}
	cfg.Verbose = verbose

	if err := cfg.Validate(); err != nil {
		return err
	}

	scope := "project"
	form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should the config be saved?").
				Options(
					huh.NewOption("This project (./.functrace/config.yaml)", "project"),
					huh.NewOption("Globally (~/.functrace/config.yaml)", "global"),
				).
				Value(&scope),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}

	path := filepath.Join(".functrace", "config.yaml")
	if scope == "global" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, ".functrace", "config.yaml")
	}

	if err := cfg.Save(path); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}
