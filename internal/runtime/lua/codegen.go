package lua

import (
	"strconv"
	"strings"
)

// Codegen generates Lua source fragments for rewrite mode. It implements
// execctx.CodegenInterface.
type Codegen struct{}

// Quote returns s as a double-quoted Lua string literal. Quotes and
// backslashes are escaped, control bytes use decimal escapes.
func (Codegen) Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			if c < 0x20 || c == 0x7f {
				// pad to three digits so a following digit is not absorbed
				b.WriteByte('\\')
				d := strconv.Itoa(int(c))
				b.WriteString(strings.Repeat("0", 3-len(d)))
				b.WriteString(d)
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Stringify returns an expression converting expr to a string.
func (Codegen) Stringify(expr string) string {
	return "tostring(" + expr + ")"
}

// Concat joins string expressions with the concatenation operator.
func (Codegen) Concat(exprs ...string) string {
	return strings.Join(exprs, " .. ")
}

// Call returns a call expression.
func (Codegen) Call(fn string, args ...string) string {
	return fn + "(" + strings.Join(args, ", ") + ")"
}

// Print returns a statement printing the expressions joined by spaces.
func (g Codegen) Print(exprs ...string) string {
	if len(exprs) == 0 {
		return "print()"
	}
	parts := make([]string, 0, 2*len(exprs)-1)
	for i, e := range exprs {
		if i > 0 {
			parts = append(parts, `" "`)
		}
		parts = append(parts, e)
	}
	return "print(" + g.Concat(parts...) + ")"
}

// ErrorPrint returns a statement reporting msg on the error channel.
func (g Codegen) ErrorPrint(msg string) string {
	return g.Call(HostModule+".error", g.Quote(msg))
}
