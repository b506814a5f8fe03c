// ----------------------------------------------------------------------------
// FILE: codegen/render.go
// ----------------------------------------------------------------------------
// PACKAGE: codegen
// PURPOSE: Plain-text rendering of a lowered Program, for the CLI's -d/--dump
//          flag: prints the AST and the lowered IR before probe loading.
// ----------------------------------------------------------------------------

package codegen

import (
	"fmt"
	"strings"
)

// Render produces a readable listing of every section's instructions, one
// per line, grouped under its section name.
func Render(p *Program) string {
	var sb strings.Builder
	for _, sec := range p.Sections {
		fmt.Fprintf(&sb, "section %s:\n", sec.Name)
		for _, in := range sec.Instrs {
			sb.WriteString("  ")
			sb.WriteString(renderInstr(in))
			sb.WriteString("\n")
		}
	}
	if len(p.Maps) > 0 {
		sb.WriteString("maps:\n")
		for _, m := range p.Maps {
			kind := "scalar"
			if m.IsQuantize {
				kind = "quantize"
			}
			fmt.Fprintf(&sb, "  @%s: keys=%v value=%s (%s)\n", m.Name, m.KeyTypes, m.ValueType, kind)
		}
	}
	return sb.String()
}

func renderInstr(in Instr) string {
	switch in.Op {
	case OpConstInt:
		return fmt.Sprintf("%s = const %d", in.Dest, in.Imm)
	case OpAllocBuf:
		return fmt.Sprintf("%s = alloc %d", in.Dest, in.Size)
	case OpCopyLiteral:
		return fmt.Sprintf("copy %q -> %s (%d bytes)", in.Str, arg(in, 0), in.Size)
	case OpCallHelper:
		return fmt.Sprintf("%s = call %s(%s)", in.Dest, in.Str, strings.Join(in.Args, ", "))
	case OpBinop:
		return fmt.Sprintf("%s = %s %s %s", in.Dest, arg(in, 0), in.Str, arg(in, 1))
	case OpUnop:
		return fmt.Sprintf("%s = %s %s", in.Dest, in.Str, arg(in, 0))
	case OpSelect:
		return fmt.Sprintf("%s = %s ? %s : %s", in.Dest, arg(in, 0), arg(in, 1), arg(in, 2))
	case OpMove:
		return fmt.Sprintf("%s = %s", in.Dest, arg(in, 0))
	case OpJump:
		return fmt.Sprintf("jump %s", in.Target)
	case OpJumpIfZero:
		return fmt.Sprintf("if %s == 0 jump %s", arg(in, 0), in.Target)
	case OpJumpIfNZero:
		return fmt.Sprintf("if %s != 0 jump %s", arg(in, 0), in.Target)
	case OpLabel:
		return fmt.Sprintf("%s:", in.Target)
	case OpReturn:
		if len(in.Args) > 0 {
			return fmt.Sprintf("return %s", arg(in, 0))
		}
		return fmt.Sprintf("return %d", in.Imm)
	case OpProbeRead:
		return fmt.Sprintf("%s = probe_read(%s+%d, %d)", in.Dest, probeBase(in), in.Imm, in.Size)
	case OpProbeReadP:
		return fmt.Sprintf("%s = probe_read(%s, %d)", in.Dest, arg(in, 0), in.Size)
	case OpPackField:
		return fmt.Sprintf("pack %s[%d:%d] = %s", arg(in, 0), in.Imm, in.Size, arg(in, 1))
	case OpMapLookup:
		return fmt.Sprintf("%s = map_lookup(@%s, %s)", in.Dest, in.Map, arg(in, 0))
	case OpMapUpdate:
		return fmt.Sprintf("map_update(@%s, %s, %s)", in.Map, arg(in, 0), arg(in, 1))
	case OpMapDelete:
		return fmt.Sprintf("map_delete(@%s, %s)", in.Map, arg(in, 0))
	case OpEmitRecord:
		return fmt.Sprintf("emit_record(id=%d, %s)", in.Imm, strings.Join(in.Args, ", "))
	case OpDefineFunc:
		return fmt.Sprintf("func %s (%s)", in.Str, in.Target)
	default:
		return fmt.Sprintf("%s %+v", in.Op, in)
	}
}

func arg(in Instr, i int) string {
	if i < len(in.Args) {
		return in.Args[i]
	}
	return "?"
}

func probeBase(in Instr) string {
	if len(in.Args) > 0 {
		return in.Args[0]
	}
	return in.Str
}
