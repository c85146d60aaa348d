// Package commands provides the CLI commands for the functrace tool.
package commands

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/avasek/functrace/internal/config"
	"github.com/avasek/functrace/internal/log"
	"github.com/avasek/functrace/pkg/disasm"
	"github.com/spf13/cobra"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "functrace",
	Short: "functrace - Flowchart path tracing and emulation for program snapshots",
	Long: `functrace walks control flow graphs extracted from disassembled programs
and emulates execution paths to recover runtime values such as decoded
strings and configuration data.

Commands:
  blocks      Show the basic blocks of a function
  paths       Enumerate execution paths reaching an address
  trace       Emulate paths and show the processor context at an address
  imports     List imported functions
  exports     List exported functions
  segments    List memory segments
  search      Search segment bytes with a regular expression

Use "functrace [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().StringP("snapshot", "s", "", "Program snapshot file (.yaml or msgpack)")
	RootCmd.PersistentFlags().String("config", "", "Config file path")
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose logging")

	RootCmd.AddCommand(blocksCmd)
	RootCmd.AddCommand(pathsCmd)
	RootCmd.AddCommand(traceCmd)
	RootCmd.AddCommand(importsCmd)
	RootCmd.AddCommand(exportsCmd)
	RootCmd.AddCommand(segmentsCmd)
	RootCmd.AddCommand(searchCmd)
	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(doctorCmd)
}

// loadConfig resolves the effective configuration for a command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// newLogger builds the command logger from config and flags.
func newLogger(cmd *cobra.Command, cfg *config.Config) log.Logger {
	logger := log.Default()
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose || cfg.Verbose {
		logger.SetLevel(log.DebugLevel)
	}
	logger.SetJSONOutput(cfg.JSONLogs)
	return logger
}

// loadSnapshot loads the snapshot named by the --snapshot flag or config,
// applying any architecture overrides from config.
func loadSnapshot(cmd *cobra.Command, cfg *config.Config) (*disasm.Snapshot, error) {
	path, _ := cmd.Flags().GetString("snapshot")
	if path == "" {
		path = cfg.SnapshotPath
	}
	if path == "" {
		return nil, fmt.Errorf("no snapshot given: use --snapshot or set snapshot_path in config")
	}

	snap, err := disasm.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", path, err)
	}

	arch := snap.Arch()
	if cfg.Bits != 0 {
		arch.Bits = cfg.Bits
	}
	switch cfg.ByteOrder {
	case "little":
		arch.ByteOrder = binary.LittleEndian
	case "big":
		arch.ByteOrder = binary.BigEndian
	}
	snap.SetArch(arch)

	return snap, nil
}

// resolveAddr turns a command line location into an address. Accepts hex
// (0x prefixed), decimal, or a function name looked up in the snapshot.
func resolveAddr(snap *disasm.Snapshot, s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid address %q: %w", s, err)
		}
		return v, nil
	}
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v, nil
	}
	if ea, ok := snap.FunctionAddr(s); ok {
		return ea, nil
	}
	return 0, fmt.Errorf("cannot resolve %q to an address or function name", s)
}
