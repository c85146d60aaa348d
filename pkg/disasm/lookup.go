package disasm

import (
	"fmt"
	"strings"
)

// IterImports returns import entries, optionally filtered by module name
// (case-insensitive) and by API names.
func (s *Snapshot) IterImports(module string, names ...string) []Import {
	var out []Import
	for _, imp := range s.imports {
		if module != "" && !strings.EqualFold(module, imp.Module) {
			continue
		}
		if len(names) > 0 && !containsName(names, imp.Name) {
			continue
		}
		out = append(out, imp)
	}
	return out
}

// ImportAddr returns the address of the first import matching name, and
// optionally module.
func (s *Snapshot) ImportAddr(name, module string) (uint64, bool) {
	for _, imp := range s.IterImports(module, name) {
		return imp.EA, true
	}
	return 0, false
}

// IterFunctions returns defined functions, optionally filtered by name.
func (s *Snapshot) IterFunctions(names ...string) []*Function {
	if len(names) == 0 {
		return s.functions
	}
	var out []*Function
	for _, fn := range s.functions {
		if containsName(names, fn.Name) {
			out = append(out, fn)
		}
	}
	return out
}

// FunctionByName returns the function with the given symbol name.
func (s *Snapshot) FunctionByName(name string) (*Function, error) {
	for _, fn := range s.functions {
		if fn.Name == name {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("function %q: %w", name, ErrInvalidFunction)
}

// ExportAddr returns the address of the named export.
func (s *Snapshot) ExportAddr(name string) (uint64, bool) {
	for _, exp := range s.exports {
		if exp.Name == name {
			return exp.EA, true
		}
	}
	return 0, false
}

// FunctionAddr resolves a name against defined functions first, then the
// import table. Returns false when the name is unknown.
func (s *Snapshot) FunctionAddr(name string) (uint64, bool) {
	for _, fn := range s.functions {
		if fn.Name == name {
			return fn.Start, true
		}
	}
	return s.ImportAddr(name, "")
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
