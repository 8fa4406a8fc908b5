package shade

import (
	"bufio"
	"fmt"
	"strings"
)

// Preprocessor directives recognized in module source. A directive is a
// line whose first non-blank character is '#':
//
//	#import "path/to/module"    declare an import (quoted path form only)
//	#define NAME                declare a feature-flag symbol
//	#ifdef NAME                 begin a section active when NAME is enabled
//	#ifndef NAME                begin a section active when NAME is disabled
//	#else                       flip the innermost section
//	#endif                      end the innermost section
//
// Directive lines are consumed during composition and never reach the
// WGSL compiler.

type directiveKind int

const (
	dirNone directiveKind = iota
	dirImport
	dirDefine
	dirIfdef
	dirIfndef
	dirElse
	dirEndif
)

// parseDirectiveLine classifies one source line. Non-directive lines
// return dirNone. For #import the returned argument is the normalized
// module identifier; for #define/#ifdef/#ifndef it is the flag symbol.
func parseDirectiveLine(line string) (directiveKind, string, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return dirNone, "", nil
	}
	keyword, rest := trimmed, ""
	if i := strings.IndexAny(trimmed, " \t"); i >= 0 {
		keyword, rest = trimmed[:i], strings.TrimSpace(trimmed[i+1:])
	}

	switch keyword {
	case "#import":
		if rest == "" {
			return dirNone, "", fmt.Errorf("#import missing path")
		}
		if !strings.HasPrefix(rest, `"`) {
			return dirNone, "", fmt.Errorf("%w: %s", ErrNamedImport, rest)
		}
		end := strings.Index(rest[1:], `"`)
		if end < 0 {
			return dirNone, "", fmt.Errorf("#import unterminated path %s", rest)
		}
		if trailing := strings.TrimSpace(rest[end+2:]); trailing != "" {
			return dirNone, "", fmt.Errorf("#import unexpected %q after path", trailing)
		}
		id := NormalizeModuleID(rest[1 : end+1])
		if id == "" {
			return dirNone, "", fmt.Errorf("#import empty path")
		}
		return dirImport, id, nil

	case "#define":
		if !isFlagSymbol(rest) {
			return dirNone, "", fmt.Errorf("#define invalid symbol %q", rest)
		}
		return dirDefine, rest, nil

	case "#ifdef", "#ifndef":
		if !isFlagSymbol(rest) {
			return dirNone, "", fmt.Errorf("%s invalid symbol %q", keyword, rest)
		}
		if keyword == "#ifdef" {
			return dirIfdef, rest, nil
		}
		return dirIfndef, rest, nil

	case "#else", "#endif":
		if rest != "" {
			return dirNone, "", fmt.Errorf("%s unexpected %q", keyword, rest)
		}
		if keyword == "#else" {
			return dirElse, "", nil
		}
		return dirEndif, "", nil

	default:
		return dirNone, "", fmt.Errorf("unknown directive %s", keyword)
	}
}

// isFlagSymbol reports whether s is a valid flag symbol:
// [A-Za-z_][A-Za-z0-9_]*.
func isFlagSymbol(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// parseDirectives extracts the flag-independent preprocessor metadata from
// a module's source: declared imports and declared #define symbols, both
// in declaration order. Directives inside conditional sections are
// collected regardless of any flag set; conditional balance is validated
// here so malformed nesting is reported when the module is first loaded.
func parseDirectives(text string) (imports, defines []string, err error) {
	type frame struct {
		line     int
		elseSeen bool
	}
	var stack []frame

	sc := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for sc.Scan() {
		line++
		kind, arg, derr := parseDirectiveLine(sc.Text())
		if derr != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, derr)
		}
		switch kind {
		case dirImport:
			imports = append(imports, arg)
		case dirDefine:
			defines = append(defines, arg)
		case dirIfdef, dirIfndef:
			stack = append(stack, frame{line: line})
		case dirElse:
			if len(stack) == 0 {
				return nil, nil, fmt.Errorf("line %d: #else without #ifdef", line)
			}
			f := &stack[len(stack)-1]
			if f.elseSeen {
				return nil, nil, fmt.Errorf("line %d: duplicate #else", line)
			}
			f.elseSeen = true
		case dirEndif:
			if len(stack) == 0 {
				return nil, nil, fmt.Errorf("line %d: #endif without #ifdef", line)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if len(stack) > 0 {
		return nil, nil, fmt.Errorf("line %d: unterminated #ifdef", stack[len(stack)-1].line)
	}
	return imports, defines, nil
}

// expandConditionals produces the composition-ready body of a module:
// conditional sections are resolved against the enabled flags and all
// directive lines are dropped. The flag set passed here is the effective
// set for the module (request flags plus the module's own #define
// symbols).
func expandConditionals(text string, flags FlagSet) (string, error) {
	type frame struct {
		parentActive bool
		active       bool
		taken        bool
		elseSeen     bool
		line         int
	}
	var stack []frame
	active := func() bool { return len(stack) == 0 || stack[len(stack)-1].active }

	var out []string
	sc := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Text()
		kind, arg, err := parseDirectiveLine(raw)
		if err != nil {
			return "", fmt.Errorf("line %d: %w", line, err)
		}
		switch kind {
		case dirNone:
			if active() {
				out = append(out, raw)
			}
		case dirImport, dirDefine:
			// Consumed by composition.
		case dirIfdef, dirIfndef:
			parent := active()
			cond := flags.Has(arg)
			if kind == dirIfndef {
				cond = !cond
			}
			on := parent && cond
			stack = append(stack, frame{parentActive: parent, active: on, taken: on, line: line})
		case dirElse:
			if len(stack) == 0 {
				return "", fmt.Errorf("line %d: #else without #ifdef", line)
			}
			f := &stack[len(stack)-1]
			if f.elseSeen {
				return "", fmt.Errorf("line %d: duplicate #else", line)
			}
			f.elseSeen = true
			f.active = f.parentActive && !f.taken
			f.taken = f.taken || f.active
		case dirEndif:
			if len(stack) == 0 {
				return "", fmt.Errorf("line %d: #endif without #ifdef", line)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if len(stack) > 0 {
		return "", fmt.Errorf("line %d: unterminated #ifdef", stack[len(stack)-1].line)
	}
	return strings.Join(out, "\n"), nil
}
