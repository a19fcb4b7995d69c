package il

import (
	"math"
	"strconv"
	"strings"

	"tlog.app/go/errors"

	"github.com/gpujit/glow/compiler/ir"
	"github.com/gpujit/glow/compiler/tp"
)

// Assemble parses the textual kernel form into bytecode methods and
// registers them. One method looks like
//
//	func copy(idx: i32, a: view<global, i32>, c: view<global, i32>) -> void
//		ldarg 2
//		ldarg 0
//		ldarg 1
//		ldarg 0
//		ldelem
//		stelem
//		ret
//	end
//
// Mnemonic suffixes select variants (add.un, cmp.lt, conv.i64).
// Labels are `name:` lines; branches name the label.
func Assemble(reg *Registry, text []byte) (last *Method, err error) {
	lines := strings.Split(string(text), "\n")

	for ln := 0; ln < len(lines); {
		line := clean(lines[ln])
		if line == "" {
			ln++
			continue
		}

		if !strings.HasPrefix(line, "func ") {
			return nil, errors.New("line %d: expected func, got %q", ln+1, line)
		}

		m, next, err := parseFunc(lines, ln)
		if err != nil {
			return nil, errors.Wrap(err, "line %d", ln+1)
		}

		reg.Add(m)
		last = m
		ln = next
	}

	return last, nil
}

func parseFunc(lines []string, ln int) (m *Method, next int, err error) {
	head := clean(lines[ln])

	m = &Method{}

	rest := strings.TrimPrefix(head, "func ")

	op := strings.IndexByte(rest, '(')
	cp := strings.LastIndexByte(rest, ')')
	if op < 0 || cp < op {
		return nil, 0, errors.New("malformed func header")
	}

	m.Name = strings.TrimSpace(rest[:op])
	m.Handle = ir.MethodHandle(m.Name)

	for _, p := range splitTop(rest[op+1 : cp]) {
		name, t, ok := strings.Cut(p, ":")
		if !ok {
			return nil, 0, errors.New("malformed param %q", p)
		}

		pt, err := ParseType(strings.TrimSpace(t))
		if err != nil {
			return nil, 0, errors.Wrap(err, "param %v", name)
		}

		m.Params = append(m.Params, Param{Name: strings.TrimSpace(name), Type: pt})
	}

	tail := strings.TrimSpace(rest[cp+1:])
	tail = strings.TrimPrefix(tail, "->")

	words := strings.Fields(tail)
	if len(words) == 0 {
		return nil, 0, errors.New("missing return type")
	}

	m.Ret, err = ParseType(words[0])
	if err != nil {
		return nil, 0, errors.Wrap(err, "return type")
	}

	for _, w := range words[1:] {
		switch w {
		case "noinline":
			m.Flags |= ir.NoInlining
		case "inline":
			m.Flags |= ir.AggressiveInlining
		case "external":
			m.Flags |= ir.External
		default:
			return nil, 0, errors.New("unknown func flag %q", w)
		}
	}

	labels := map[string]int{}
	var fixups []int // instruction indexes with unresolved label in Callee

	for ln++; ; ln++ {
		if ln >= len(lines) {
			return nil, 0, errors.New("missing end")
		}

		line := clean(lines[ln])
		if line == "" {
			continue
		}

		if line == "end" {
			ln++
			break
		}

		if name, ok := strings.CutSuffix(line, ":"); ok {
			labels[strings.TrimSpace(name)] = len(m.Code)
			continue
		}

		if rest, ok := strings.CutPrefix(line, "locals "); ok {
			for _, t := range splitTop(rest) {
				lt, err := ParseType(strings.TrimSpace(t))
				if err != nil {
					return nil, 0, errors.Wrap(err, "local")
				}

				m.Locals = append(m.Locals, lt)
			}
			continue
		}

		ins, fixup, err := parseInstr(line)
		if err != nil {
			return nil, 0, errors.Wrap(err, "line %d: %q", ln+1, line)
		}

		if fixup {
			fixups = append(fixups, len(m.Code))
		}

		m.Code = append(m.Code, ins)
	}

	for _, i := range fixups {
		t, ok := labels[string(m.Code[i].Callee)]
		if !ok {
			return nil, 0, errors.New("undefined label %q", m.Code[i].Callee)
		}

		m.Code[i].Target = t
		m.Code[i].Callee = ""
	}

	return m, ln, nil
}

func parseInstr(line string) (ins Instr, fixup bool, err error) {
	words := strings.Fields(line)
	mn := words[0]

	base, variant, _ := strings.Cut(mn, ".")

	num := func() (int64, error) {
		if len(words) < 2 {
			return 0, errors.New("missing operand")
		}

		return strconv.ParseInt(words[1], 0, 64)
	}

	switch base {
	case "nop":
		ins.Op = Nop
	case "ldarg", "ldloc", "stloc", "ldfld", "stfld", "ldflda":
		ins.Int, err = num()
		if err != nil {
			return ins, false, err
		}

		switch base {
		case "ldarg":
			ins.Op = LdArg
		case "ldloc":
			ins.Op = LdLoc
		case "stloc":
			ins.Op = StLoc
		case "ldfld":
			ins.Op = LdFld
		case "stfld":
			ins.Op = StFld
		case "ldflda":
			ins.Op = LdFldA
		}
	case "ldc":
		switch variant {
		case "i32", "i64":
			ins.Int, err = num()

			ins.Op = LdcI32
			if variant == "i64" {
				ins.Op = LdcI64
			}
		case "f32", "f64":
			if len(words) < 2 {
				return ins, false, errors.New("missing operand")
			}

			var f float64
			f, err = strconv.ParseFloat(words[1], 64)

			ins.Op = LdcF32
			if variant == "f64" {
				ins.Op = LdcF64
			}

			ins.Int = int64(floatRaw(f, variant == "f32"))
		default:
			err = errors.New("bad ldc variant %q", variant)
		}

		if err != nil {
			return ins, false, err
		}
	case "ldnull":
		ins.Op = LdNull

		if len(words) < 2 {
			return ins, false, errors.New("missing type")
		}

		ins.Type, err = ParseType(words[1])
		if err != nil {
			return ins, false, err
		}
	case "add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr", "min", "max", "neg", "not":
		ins.Op = arithOp(base)

		if variant == "un" {
			ins.Int = int64(ir.Unsigned)
		}
	case "conv":
		ins.Op = Conv

		t, un, _ := strings.Cut(variant, ".")

		ins.Type, err = ParseType(t)
		if err != nil {
			return ins, false, err
		}

		if un == "un" {
			ins.Int = int64(ir.Unsigned)
		}
	case "cmp":
		ins.Op = CmpOp

		rel, flag, _ := strings.Cut(variant, ".")

		r, ok := rels[rel]
		if !ok {
			return ins, false, errors.New("bad relation %q", rel)
		}

		ins.Int = int64(r)

		switch flag {
		case "":
		case "un":
			ins.Int |= int64(ir.Unsigned) << 8
		case "uno":
			ins.Int = int64(r | ir.RelUnordered)
		default:
			return ins, false, errors.New("bad cmp flag %q", flag)
		}
	case "br", "brtrue", "brfalse":
		switch base {
		case "br":
			ins.Op = Br
		case "brtrue":
			ins.Op = BrTrue
		case "brfalse":
			ins.Op = BrFalse
		}

		if len(words) < 2 {
			return ins, false, errors.New("missing label")
		}

		// label resolved by the caller
		ins.Callee = ir.MethodHandle(words[1])
		fixup = true
	case "ret":
		ins.Op = RetOp
	case "ldelem":
		ins.Op = LdElem
	case "ldelema":
		ins.Op = LdElemA
	case "stelem":
		ins.Op = StElem
	case "ldlen":
		ins.Op = LdLen
	case "call":
		ins.Op = CallOp

		if len(words) < 2 {
			return ins, false, errors.New("missing callee")
		}

		ins.Callee = ir.MethodHandle(words[1])
	default:
		return ins, false, errors.New("unknown mnemonic %q", mn)
	}

	return ins, fixup, nil
}

var rels = map[string]ir.Rel{
	"eq": ir.Eq,
	"ne": ir.Ne,
	"lt": ir.Lt,
	"le": ir.Le,
	"gt": ir.Gt,
	"ge": ir.Ge,
}

func arithOp(base string) Opcode {
	switch base {
	case "add":
		return OpAdd
	case "sub":
		return OpSub
	case "mul":
		return OpMul
	case "div":
		return OpDiv
	case "rem":
		return OpRem
	case "and":
		return OpAnd
	case "or":
		return OpOr
	case "xor":
		return OpXor
	case "shl":
		return OpShl
	case "shr":
		return OpShr
	case "min":
		return OpMin
	case "max":
		return OpMax
	case "neg":
		return OpNeg
	case "not":
		return OpNot
	}

	panic(base)
}

// ParseType parses the canonical type syntax used in dumps and source:
// i32, u8, f64, void, ptr<global, i8>, view<global, f32>, struct{i32,i64}.
func ParseType(s string) (tp.Type, error) {
	s = strings.TrimSpace(s)

	switch s {
	case "void":
		return tp.Void{}, nil
	case "i1", "bool":
		return tp.Bool, nil
	case "i8":
		return tp.I8, nil
	case "i16":
		return tp.I16, nil
	case "i32":
		return tp.I32, nil
	case "i64":
		return tp.I64, nil
	case "u8":
		return tp.U8, nil
	case "u16":
		return tp.U16, nil
	case "u32":
		return tp.U32, nil
	case "u64":
		return tp.U64, nil
	case "f32":
		return tp.F32, nil
	case "f64":
		return tp.F64, nil
	}

	if inner, ok := cutWrap(s, "ptr<", ">"); ok {
		space, elem, err := parseSpaced(inner)
		if err != nil {
			return nil, err
		}

		return tp.Ptr{Elem: elem, Space: space}, nil
	}

	if inner, ok := cutWrap(s, "view<", ">"); ok {
		space, elem, err := parseSpaced(inner)
		if err != nil {
			return nil, err
		}

		return tp.View{Elem: elem, Space: space}, nil
	}

	if inner, ok := cutWrap(s, "struct{", "}"); ok {
		var st tp.Struct

		for _, f := range splitTop(inner) {
			ft, err := ParseType(f)
			if err != nil {
				return nil, err
			}

			st.Fields = append(st.Fields, ft)
		}

		return st, nil
	}

	return nil, errors.New("bad type %q", s)
}

func parseSpaced(inner string) (tp.Space, tp.Type, error) {
	sp, elem, ok := strings.Cut(inner, ",")
	if !ok {
		return 0, nil, errors.New("bad composite type %q", inner)
	}

	var space tp.Space

	switch strings.TrimSpace(sp) {
	case "generic":
		space = tp.Generic
	case "global":
		space = tp.Global
	case "shared":
		space = tp.Shared
	case "local":
		space = tp.Local
	case "constant":
		space = tp.Constant
	default:
		return 0, nil, errors.New("bad address space %q", sp)
	}

	t, err := ParseType(elem)

	return space, t, err
}

func cutWrap(s, pre, suf string) (string, bool) {
	if strings.HasPrefix(s, pre) && strings.HasSuffix(s, suf) {
		return s[len(pre) : len(s)-len(suf)], true
	}

	return "", false
}

// splitTop splits on commas not nested in <> or {}.
func splitTop(s string) (r []string) {
	depth := 0
	last := 0

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '{':
			depth++
		case '>', '}':
			depth--
		case ',':
			if depth == 0 {
				r = append(r, strings.TrimSpace(s[last:i]))
				last = i + 1
			}
		}
	}

	if t := strings.TrimSpace(s[last:]); t != "" {
		r = append(r, t)
	}

	return r
}

func clean(line string) string {
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}

	return strings.TrimSpace(line)
}

func floatRaw(f float64, single bool) uint64 {
	if single {
		return uint64(math.Float32bits(float32(f)))
	}

	return math.Float64bits(f)
}
