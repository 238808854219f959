// printer.go — canonical pretty-printer for parsed programs.
//
// FormatStatements renders an AST back to source such that re-parsing yields
// an equivalent AST (spans aside). Tooling uses it for formatting and the
// test suite uses it for the parse round-trip law.
package devalang

import (
	"fmt"
	"strconv"
	"strings"
)

const indentUnit = "  "

// FormatStatements renders a statement list at indent level 0.
func FormatStatements(stmts []Statement) string {
	var b strings.Builder
	formatBlock(&b, stmts, 0)
	return b.String()
}

func formatBlock(b *strings.Builder, stmts []Statement, level int) {
	for i := range stmts {
		formatStatement(b, &stmts[i], level)
	}
}

func writeIndent(b *strings.Builder, level int) {
	for i := 0; i < level; i++ {
		b.WriteString(indentUnit)
	}
}

func formatStatement(b *strings.Builder, st *Statement, level int) {
	writeIndent(b, level)
	switch st.Kind {
	case StTempo:
		fmt.Fprintf(b, "bpm %s\n", FormatExpr(st.Expr))
	case StBank:
		if st.Alias != "" {
			fmt.Fprintf(b, "bank %s as %s\n", st.Name, st.Alias)
		} else {
			fmt.Fprintf(b, "bank %s\n", st.Name)
		}
	case StLoad:
		fmt.Fprintf(b, "@load %s as %s\n", strconv.Quote(st.Name), st.Alias)
	case StUse:
		if st.Alias != "" {
			fmt.Fprintf(b, "@use %s as %s\n", st.Name, st.Alias)
		} else {
			fmt.Fprintf(b, "@use %s\n", st.Name)
		}
	case StImport:
		fmt.Fprintf(b, "@import { %s } from %s\n", strings.Join(st.Names, ", "), strconv.Quote(st.Name))
	case StExport:
		fmt.Fprintf(b, "@export { %s }\n", strings.Join(st.Names, ", "))
	case StLet:
		fmt.Fprintf(b, "%s %s = %s\n", st.Decl, st.Name, FormatExpr(st.Expr))
	case StAssign:
		fmt.Fprintf(b, "%s = %s\n", st.Name, FormatExpr(st.Expr))
	case StFunction:
		fmt.Fprintf(b, "function %s(%s):\n", st.Name, strings.Join(st.Params, ", "))
		formatBlock(b, st.Body, level+1)
	case StGroup:
		fmt.Fprintf(b, "group %s:\n", st.Name)
		formatBlock(b, st.Body, level+1)
	case StCall:
		b.WriteString("call " + st.Name)
		writeArgList(b, st.Args)
		b.WriteByte('\n')
	case StSpawn:
		if len(st.Body) > 0 {
			b.WriteString("spawn:\n")
			formatBlock(b, st.Body, level+1)
		} else {
			b.WriteString("spawn " + st.Name)
			writeArgList(b, st.Args)
			b.WriteByte('\n')
		}
	case StSleep:
		fmt.Fprintf(b, "sleep %s\n", FormatExpr(st.Expr))
	case StLoop:
		switch {
		case st.Pass != nil:
			fmt.Fprintf(b, "loop pass(%s):\n", FormatExpr(st.Pass))
		case st.Expr != nil:
			fmt.Fprintf(b, "loop %s:\n", FormatExpr(st.Expr))
		default:
			b.WriteString("loop:\n")
		}
		formatBlock(b, st.Body, level+1)
	case StFor:
		fmt.Fprintf(b, "for %s in %s:\n", st.Var, FormatExpr(st.Expr))
		formatBlock(b, st.Body, level+1)
	case StIf:
		formatIf(b, st, level, false)
	case StTrigger:
		b.WriteString("." + st.Target)
		if st.Dur != nil {
			b.WriteString(" " + FormatExpr(st.Dur))
		}
		if st.Effects != nil {
			b.WriteString(" " + FormatExpr(st.Effects))
		}
		b.WriteByte('\n')
	case StArrowCall:
		b.WriteString(st.Target)
		for _, stage := range st.Chain {
			b.WriteString(" -> " + stage.Method + "(")
			for i, a := range stage.Args {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(FormatExpr(a))
			}
			b.WriteString(")")
		}
		b.WriteByte('\n')
	case StAutomate:
		fmt.Fprintf(b, "automate %s mode %s:\n", st.Target, st.Mode)
		formatBlock(b, st.Body, level+1)
	case StParam:
		b.WriteString("param " + st.Name)
		if st.Curve != nil {
			b.WriteString(" " + FormatExpr(st.Curve))
		}
		b.WriteString(" " + FormatExpr(st.Expr) + "\n")
	case StOn:
		fmt.Fprintf(b, "on %s:\n", st.Name)
		formatBlock(b, st.Body, level+1)
	case StEmit:
		b.WriteString("emit " + st.Name)
		if st.Expr != nil {
			b.WriteString(" " + FormatExpr(st.Expr))
		}
		b.WriteByte('\n')
	case StPattern:
		b.WriteString("pattern " + st.Name)
		if st.Target != "" {
			b.WriteString(" with " + st.Target)
		}
		b.WriteString(" = " + FormatExpr(st.Expr))
		if st.Options != nil {
			b.WriteString(" " + FormatExpr(st.Options))
		}
		b.WriteByte('\n')
	case StPrint:
		fmt.Fprintf(b, "print %s\n", FormatExpr(st.Expr))
	case StBreak:
		b.WriteString("break\n")
	case StReturn:
		if st.Expr != nil {
			fmt.Fprintf(b, "return %s\n", FormatExpr(st.Expr))
		} else {
			b.WriteString("return\n")
		}
	}
}

func formatIf(b *strings.Builder, st *Statement, level int, chained bool) {
	if chained {
		b.WriteString("if " + FormatExpr(st.Expr) + ":\n")
	} else {
		fmt.Fprintf(b, "if %s:\n", FormatExpr(st.Expr))
	}
	formatBlock(b, st.Body, level+1)
	if len(st.Else) == 0 {
		return
	}
	writeIndent(b, level)
	if len(st.Else) == 1 && st.Else[0].Kind == StIf {
		b.WriteString("else ")
		formatIf(b, &st.Else[0], level, true)
		return
	}
	b.WriteString("else:\n")
	formatBlock(b, st.Else, level+1)
}

func writeArgList(b *strings.Builder, args []Expr) {
	if len(args) == 0 {
		return
	}
	b.WriteString("(")
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(FormatExpr(a))
	}
	b.WriteString(")")
}

// FormatExpr renders one expression. Nested binaries are parenthesized so
// the rendering is precedence-stable under re-parsing.
func FormatExpr(e Expr) string {
	return formatExpr(e, false)
}

func formatExpr(e Expr, nested bool) string {
	switch x := e.(type) {
	case *NumberLit:
		return formatNumber(x.V)
	case *StringLit:
		return strconv.Quote(x.V)
	case *BoolLit:
		if x.V {
			return "true"
		}
		return "false"
	case *DurLit:
		return x.V.String()
	case *IdentExpr:
		return x.Name
	case *ArrayLit:
		parts := make([]string, len(x.Elems))
		for i, el := range x.Elems {
			parts[i] = formatExpr(el, false)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *RangeLit:
		return "[" + formatExpr(x.Lo, false) + ".." + formatExpr(x.Hi, false) + "]"
	case *MapLit:
		parts := make([]string, len(x.MapKeys))
		for i, k := range x.MapKeys {
			parts[i] = formatMapKey(k) + ": " + formatExpr(x.Vals[i], false)
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	case *UnaryExpr:
		if x.Op == "not" {
			return "not " + formatExpr(x.X, true)
		}
		return x.Op + formatExpr(x.X, true)
	case *BinExpr:
		s := formatExpr(x.L, true) + " " + x.Op + " " + formatExpr(x.R, true)
		if nested {
			return "(" + s + ")"
		}
		return s
	case *CallExpr:
		var sb strings.Builder
		sb.WriteString(formatExpr(x.Callee, true))
		sb.WriteString("(")
		for i, a := range x.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(formatExpr(a, false))
		}
		sb.WriteString(")")
		return sb.String()
	case *IndexExpr:
		return formatExpr(x.X, true) + "[" + formatExpr(x.Idx, false) + "]"
	case *FieldExpr:
		return formatExpr(x.X, true) + "." + x.Name
	case *SynthExpr:
		s := "synth " + x.Waveform
		if x.Options != nil {
			s += " " + formatExpr(x.Options, false)
		}
		return s
	default:
		return ""
	}
}

// formatMapKey quotes keys that would not re-parse as bare identifiers or
// percentages.
func formatMapKey(k string) string {
	if k == "" {
		return `""`
	}
	if strings.HasSuffix(k, "%") {
		return k
	}
	if isAlpha(k[0]) {
		ok := true
		for i := 0; i < len(k); i++ {
			if !isAlphaNum(k[i]) {
				ok = false
				break
			}
		}
		if ok {
			return k
		}
	}
	if isDigit(k[0]) {
		return k
	}
	return strconv.Quote(k)
}
