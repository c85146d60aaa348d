package emulator

import (
	"errors"
	"fmt"

	"github.com/avasek/functrace/internal/log"
	"github.com/avasek/functrace/pkg/cache"
	"github.com/avasek/functrace/pkg/disasm"
	"github.com/avasek/functrace/pkg/flowchart"
)

// ErrNoPath is returned when no execution path reaches the requested
// address.
var ErrNoPath = errors.New("no path reaches address")

// DefaultMaxPaths bounds how many paths a trace walks before giving up.
// Heavily branched functions can have exponentially many paths; the first
// few are almost always the ones a decoder cares about.
const DefaultMaxPaths = 10

// TracerOptions configures a Tracer.
type TracerOptions struct {
	// MaxPaths limits paths examined per traced address.
	// Zero selects DefaultMaxPaths; negative means unlimited.
	MaxPaths int

	// CacheSize is the number of function flowcharts kept in memory.
	CacheSize int

	// StringCachePath, when set, backs recovered strings with a file so
	// repeated runs over the same snapshot skip re-emulation. A missing
	// file starts the cache empty.
	StringCachePath string

	// Logger receives trace diagnostics. Defaults to a no-op logger.
	Logger log.Logger
}

// Tracer drives emulation over a program snapshot. It builds a flowchart
// per function on demand, keeps the most recently used ones cached, and
// hands out processor contexts observed at addresses of interest.
type Tracer struct {
	prog    disasm.Program
	step    flowchart.Stepper
	charts  *cache.StatsCache
	strings *cache.LRUCache
	strPath string
	max     int
	logger  log.Logger
}

// NewTracer creates a tracer over prog using the reference emulator as
// its stepper.
func NewTracer(prog disasm.Program, opts TracerOptions) *Tracer {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	emu := New(prog)
	emu.SetLogger(logger)

	size := opts.CacheSize
	if size <= 0 {
		size = 64
	}
	max := opts.MaxPaths
	if max == 0 {
		max = DefaultMaxPaths
	}
	t := &Tracer{
		prog:    prog,
		step:    emu,
		charts:  cache.NewStatsCache(cache.Options{MaxSize: size}),
		strings: cache.New(cache.Options{}),
		strPath: opts.StringCachePath,
		max:     max,
		logger:  logger,
	}
	if t.strPath != "" {
		if err := cache.LoadFromFile(t.strings, t.strPath); err != nil {
			logger.Warn("failed to load string cache", "path", t.strPath, "error", err)
		}
	}
	return t
}

// SetStepper replaces the reference emulator, keeping the flowchart cache.
// Charts built with the old stepper are dropped since their path contexts
// would mix semantics.
func (t *Tracer) SetStepper(step flowchart.Stepper) {
	t.step = step
	t.charts.Clear()
}

// Flowchart returns the flowchart of the function containing ea, building
// it on first use.
func (t *Tracer) Flowchart(ea uint64) (*flowchart.Flowchart, error) {
	fn, err := t.prog.FunctionAt(ea)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("0x%X", fn.Start)
	if v, ok := t.charts.Get(key); ok {
		return v.(*flowchart.Flowchart), nil
	}
	fc, err := flowchart.New(t.prog, fn.Start, t.step)
	if err != nil {
		return nil, err
	}
	t.charts.Set(key, fc)
	t.logger.Debug("built flowchart", "function", fn.Name, "blocks", len(fc.Blocks()))
	return fc, nil
}

// CacheStats reports hit statistics for the flowchart cache.
func (t *Tracer) CacheStats() cache.Stats { return t.charts.Stats() }

// StringAt recovers the NUL-terminated string the named register points at
// after executing the instruction at ea on the first discovered path.
// Results are cached per address and register, so a snapshot traced twice
// with the same string cache file skips emulation entirely.
func (t *Tracer) StringAt(ea uint64, reg int, maxLen int) ([]byte, error) {
	key := fmt.Sprintf("0x%X/%s", ea, disasm.RegName(reg))
	if v, ok := t.strings.Get(key); ok {
		switch s := v.(type) {
		case string:
			return []byte(s), nil
		case []byte:
			return s, nil
		}
	}
	ctx, err := t.ContextAt(ea)
	if err != nil {
		return nil, err
	}
	data := ctx.ReadString(ctx.Reg(reg, 8), maxLen)
	t.strings.Set(key, string(data))
	return data, nil
}

// PersistStrings writes the string cache to the configured file. It is a
// no-op when no path was configured.
func (t *Tracer) PersistStrings() error {
	if t.strPath == "" {
		return nil
	}
	return cache.PersistToFile(t.strings, t.strPath)
}

// ContextAt returns the processor context observed after executing the
// instruction at ea on the first discovered path. Paths whose replay
// fails are skipped.
func (t *Tracer) ContextAt(ea uint64) (*Context, error) {
	var out *Context
	err := t.walkContexts(ea, func(c *Context, _ *flowchart.PathBlock) bool {
		out = c
		return false
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: 0x%X", ErrNoPath, ea)
	}
	return out, nil
}

// ContextsAt collects the contexts observed after executing the
// instruction at ea across discovered paths, up to the tracer's path
// limit.
func (t *Tracer) ContextsAt(ea uint64) ([]*Context, error) {
	var out []*Context
	err := t.walkContexts(ea, func(c *Context, _ *flowchart.PathBlock) bool {
		out = append(out, c)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OperandValue evaluates operand n of the instruction at ea as the
// instruction itself would see it: under the context of the first path,
// replayed up to but not including ea. Memory operands yield the value
// stored at their effective address.
func (t *Tracer) OperandValue(ea uint64, n int) (uint64, error) {
	insn, err := t.prog.InstructionAt(ea)
	if err != nil {
		return 0, err
	}
	emu, ok := t.step.(*Emulator)
	if !ok {
		return 0, errors.New("operand evaluation requires the reference emulator")
	}

	var out uint64
	var found bool
	werr := t.walkPaths(ea, func(pb *flowchart.PathBlock) bool {
		ctx, err := t.contextBefore(pb, ea)
		if err != nil {
			t.logger.Debug("path replay failed", "ea", fmt.Sprintf("0x%X", ea), "error", err)
			return true
		}
		c, ok := ctx.(*Context)
		if !ok {
			return true
		}
		v, err := emu.read(c, insn, n)
		if err != nil {
			t.logger.Debug("operand read failed", "ea", fmt.Sprintf("0x%X", ea), "error", err)
			return true
		}
		out = v
		found = true
		return false
	})
	if werr != nil {
		return 0, werr
	}
	if !found {
		return 0, fmt.Errorf("%w: 0x%X", ErrNoPath, ea)
	}
	return out, nil
}

// contextBefore replays pb's path up to but not including ea.
func (t *Tracer) contextBefore(pb *flowchart.PathBlock, ea uint64) (flowchart.Context, error) {
	heads := t.prog.Heads(pb.Block.Start, ea)
	if len(heads) > 0 {
		return pb.ContextAt(heads[len(heads)-1])
	}
	// ea is the first instruction of the block; the state is whatever
	// the path prefix left behind.
	if pb.Prev != nil {
		return pb.Prev.Context()
	}
	return t.step.NewContext(), nil
}

// walkPaths visits each path reaching ea until fn returns false or the
// path limit is reached.
func (t *Tracer) walkPaths(ea uint64, fn func(*flowchart.PathBlock) bool) error {
	fc, err := t.Flowchart(ea)
	if err != nil {
		return err
	}
	iter, err := fc.GetPaths(ea)
	if err != nil {
		return err
	}
	seen := 0
	for {
		if t.max >= 0 && seen >= t.max {
			t.logger.Debug("path limit reached", "ea", fmt.Sprintf("0x%X", ea), "limit", t.max)
			return nil
		}
		pb, ok := iter.Next()
		if !ok {
			return nil
		}
		seen++
		if !fn(pb) {
			return nil
		}
	}
}

// walkContexts visits the context at ea on each path until fn returns
// false or the path limit is reached. Paths whose replay fails are
// skipped.
func (t *Tracer) walkContexts(ea uint64, fn func(*Context, *flowchart.PathBlock) bool) error {
	var ferr error
	err := t.walkPaths(ea, func(pb *flowchart.PathBlock) bool {
		ctx, err := pb.ContextAt(ea)
		if err != nil {
			t.logger.Debug("path replay failed", "ea", fmt.Sprintf("0x%X", ea), "error", err)
			return true
		}
		c, ok := ctx.(*Context)
		if !ok {
			ferr = fmt.Errorf("tracer: foreign context %T", ctx)
			return false
		}
		return fn(c, pb)
	})
	if err != nil {
		return err
	}
	return ferr
}
