// Package emulator provides the concrete processor state replayed along
// flowchart paths, a reference Stepper covering a small x86 subset, and
// the Tracer front door that ties snapshots, flowcharts and contexts
// together for string/config decoding.
package emulator

import (
	"encoding/binary"
	"fmt"

	"github.com/avasek/functrace/pkg/disasm"
	"github.com/avasek/functrace/pkg/flowchart"
	"github.com/avasek/functrace/pkg/operand"
)

// Status flag bits, at their x86 EFLAGS positions.
const (
	FlagCF uint64 = 1 << 0
	FlagPF uint64 = 1 << 2
	FlagAF uint64 = 1 << 4
	FlagZF uint64 = 1 << 6
	FlagSF uint64 = 1 << 7
	FlagOF uint64 = 1 << 11
)

const pageSize = 0x1000

// Emulated stack placement for a fresh context.
const (
	stackBase   = 0x1180000
	stackOffset = 0x800
)

// Context is a snapshot of emulated processor state: the register file,
// status flags, and a sparse paged memory view. A context belongs to one
// path node; callers always receive copies.
type Context struct {
	Regs  [16]uint64
	IP    uint64
	Flags uint64

	order binary.ByteOrder
	mem   map[uint64][]byte // page-aligned address -> pageSize bytes
}

// NewContext returns a default context with an empty memory view and the
// stack pointer placed inside the emulated stack region.
func NewContext(order binary.ByteOrder) *Context {
	if order == nil {
		order = binary.LittleEndian
	}
	c := &Context{
		order: order,
		mem:   make(map[uint64][]byte),
	}
	c.Regs[disasm.RegSP] = stackBase - stackOffset
	c.Regs[disasm.RegBP] = stackBase - stackOffset
	return c
}

// Copy returns an independent deep copy of the context.
func (c *Context) Copy() flowchart.Context {
	dup := &Context{
		Regs:  c.Regs,
		IP:    c.IP,
		Flags: c.Flags,
		order: c.order,
		mem:   make(map[uint64][]byte, len(c.mem)),
	}
	for page, data := range c.mem {
		pageCopy := make([]byte, pageSize)
		copy(pageCopy, data)
		dup.mem[page] = pageCopy
	}
	return dup
}

// Reg returns the value of a register, masked to width bytes.
func (c *Context) Reg(reg int, width int) uint64 {
	if reg < 0 || reg >= len(c.Regs) {
		return 0
	}
	return c.Regs[reg] & operand.Mask(width)
}

// SetReg stores the low width bytes of v into a register. Writes of 4
// bytes clear the upper half, matching 64-bit mode semantics; narrower
// writes merge.
func (c *Context) SetReg(reg int, v uint64, width int) {
	if reg < 0 || reg >= len(c.Regs) {
		return
	}
	switch {
	case width >= 8:
		c.Regs[reg] = v
	case width == 4:
		c.Regs[reg] = v & operand.Mask(4)
	default:
		mask := operand.Mask(width)
		c.Regs[reg] = (c.Regs[reg] &^ mask) | (v & mask)
	}
}

// Flag reports whether the given status flag bit is set.
func (c *Context) Flag(bit uint64) bool { return c.Flags&bit != 0 }

// SetFlag sets or clears a status flag bit.
func (c *Context) SetFlag(bit uint64, on bool) {
	if on {
		c.Flags |= bit
	} else {
		c.Flags &^= bit
	}
}

func (c *Context) page(ea uint64) []byte {
	base := ea &^ (pageSize - 1)
	data, ok := c.mem[base]
	if !ok {
		data = make([]byte, pageSize)
		c.mem[base] = data
	}
	return data
}

// ReadMem copies n bytes of emulated memory starting at ea. Memory never
// written reads as zero.
func (c *Context) ReadMem(ea uint64, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		page := c.page(ea + uint64(i))
		out[i] = page[(ea+uint64(i))&(pageSize-1)]
	}
	return out
}

// WriteMem stores data into emulated memory starting at ea.
func (c *Context) WriteMem(ea uint64, data []byte) {
	for i, b := range data {
		page := c.page(ea + uint64(i))
		page[(ea+uint64(i))&(pageSize-1)] = b
	}
}

// ReadValue reads a width-byte value from emulated memory in the target
// byte order.
func (c *Context) ReadValue(ea uint64, width int) (uint64, error) {
	return operand.Unpack(c.order, c.ReadMem(ea, width))
}

// WriteValue stores a width-byte value into emulated memory in the target
// byte order.
func (c *Context) WriteValue(ea uint64, v uint64, width int) error {
	buf, err := operand.Pack(c.order, v, width)
	if err != nil {
		return err
	}
	c.WriteMem(ea, buf)
	return nil
}

// ReadString reads a NUL-terminated byte string from emulated memory,
// bounded at maxLen bytes.
func (c *Context) ReadString(ea uint64, maxLen int) []byte {
	var out []byte
	for i := 0; i < maxLen; i++ {
		b := c.ReadMem(ea+uint64(i), 1)[0]
		if b == 0 {
			break
		}
		out = append(out, b)
	}
	return out
}

func (c *Context) String() string {
	return fmt.Sprintf("<Context ip=0x%X sp=0x%X flags=0x%X>", c.IP, c.Regs[disasm.RegSP], c.Flags)
}

var _ flowchart.Context = (*Context)(nil)
