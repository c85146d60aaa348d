package commands

import (
	"encoding/json"
	"fmt"

	"github.com/avasek/functrace/internal/log"
	"github.com/avasek/functrace/pkg/disasm"
	"github.com/avasek/functrace/pkg/emulator"
	"github.com/spf13/cobra"
)

// traceCmd represents the trace command
var traceCmd = &cobra.Command{
	Use:   "trace <address>",
	Short: "Emulate paths and show the processor context at an address",
	Long: `Emulates every enumerated path through the instruction at the given
address and prints the processor context observed there: register values
and, optionally, the memory a register points at.

This is the workhorse for recovering decoded strings: point it at the
instruction after a decoding loop and read the result out of the context.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger := newLogger(cmd, cfg)

		snap, err := loadSnapshot(cmd, cfg)
		if err != nil {
			return err
		}

		ea, err := resolveAddr(snap, args[0])
		if err != nil {
			return err
		}

		maxPaths := cfg.MaxPaths
		if cmd.Flags().Changed("max-paths") {
			maxPaths, _ = cmd.Flags().GetInt("max-paths")
		}

		tracer := emulator.NewTracer(snap, emulator.TracerOptions{
			MaxPaths:        maxPaths,
			CacheSize:       cfg.FlowchartCacheSize,
			StringCachePath: cfg.CachePath,
			Logger:          logger,
		})

		spinner := log.NewProgressSpinner(fmt.Sprintf("Tracing paths to 0x%X...", ea))
		spinner.Start()

		all, _ := cmd.Flags().GetBool("all")
		var contexts []*emulator.Context
		if all {
			contexts, err = tracer.ContextsAt(ea)
		} else {
			var ctx *emulator.Context
			ctx, err = tracer.ContextAt(ea)
			if ctx != nil {
				contexts = append(contexts, ctx)
			}
		}
		spinner.Stop()
		if err != nil {
			return err
		}

		deref, _ := cmd.Flags().GetString("deref")
		maxStr, _ := cmd.Flags().GetInt("max-string")

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return printContextsJSON(contexts, deref, maxStr)
		}

		for i, ctx := range contexts {
			fmt.Printf("Path %d context at 0x%X:\n", i, ea)
			printContext(ctx)
			if deref != "" {
				reg, err := regNumber(deref)
				if err != nil {
					return err
				}
				var data []byte
				if all {
					data = ctx.ReadString(ctx.Reg(reg, 8), maxStr)
				} else {
					// Single-path dereferences go through the string
					// cache so repeat runs skip emulation.
					data, err = tracer.StringAt(ea, reg, maxStr)
					if err != nil {
						return err
					}
				}
				fmt.Printf("  [%s] = %q\n", deref, data)
			}
		}
		if err := tracer.PersistStrings(); err != nil {
			logger.Warn("failed to persist string cache", "path", cfg.CachePath, "error", err)
		}
		return nil
	},
}

func init() {
	traceCmd.Flags().Bool("all", false, "Show the context of every path, not just the first")
	traceCmd.Flags().Int("max-paths", 0, "Maximum paths to emulate (overrides config)")
	traceCmd.Flags().String("deref", "", "Register whose pointed-to string should be read (e.g. rax)")
	traceCmd.Flags().Int("max-string", 256, "Maximum dereferenced string length")
	traceCmd.Flags().Bool("json", false, "Output JSON")
}

// regNumber maps a register name to its number.
func regNumber(name string) (int, error) {
	for i := 0; i < 16; i++ {
		if disasm.RegName(i) == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown register %q", name)
}

func printContext(ctx *emulator.Context) {
	for i := 0; i < 16; i += 2 {
		fmt.Printf("  %-4s 0x%016X    %-4s 0x%016X\n",
			disasm.RegName(i), ctx.Regs[i],
			disasm.RegName(i+1), ctx.Regs[i+1])
	}
	fmt.Printf("  rip  0x%016X    flags 0x%X\n", ctx.IP, ctx.Flags)
}

func printContextsJSON(contexts []*emulator.Context, deref string, maxStr int) error {
	type ctxInfo struct {
		Regs  map[string]uint64 `json:"regs"`
		IP    uint64            `json:"ip"`
		Flags uint64            `json:"flags"`
		Deref string            `json:"deref,omitempty"`
	}
	var out []ctxInfo
	for _, ctx := range contexts {
		info := ctxInfo{
			Regs:  make(map[string]uint64, 16),
			IP:    ctx.IP,
			Flags: ctx.Flags,
		}
		for i := 0; i < 16; i++ {
			info.Regs[disasm.RegName(i)] = ctx.Regs[i]
		}
		if deref != "" {
			reg, err := regNumber(deref)
			if err != nil {
				return err
			}
			info.Deref = string(ctx.ReadString(ctx.Reg(reg, 8), maxStr))
		}
		out = append(out, info)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
