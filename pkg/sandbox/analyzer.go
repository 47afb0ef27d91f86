package sandbox

import (
	"strings"
)

// allowedModules is the import allow-list: data, text, math and collection
// utilities only. Everything else — notably os, sys, socket, subprocess,
// importlib, ctypes — is rejected by default.
var allowedModules = map[string]bool{
	"json":        true,
	"re":          true,
	"math":        true,
	"cmath":       true,
	"statistics":  true,
	"decimal":     true,
	"fractions":   true,
	"random":      true,
	"string":      true,
	"textwrap":    true,
	"unicodedata": true,
	"datetime":    true,
	"time":        true,
	"calendar":    true,
	"collections": true,
	"itertools":   true,
	"functools":   true,
	"operator":    true,
	"heapq":       true,
	"bisect":      true,
	"array":       true,
	"copy":        true,
	"enum":        true,
	"typing":      true,
	"dataclasses": true,
	"uuid":        true,
	"hashlib":     true,
	"base64":      true,
}

// forbiddenNames are identifiers a snippet may never reference: escape
// hatches into the interpreter, the filesystem and attribute machinery.
var forbiddenNames = map[string]bool{
	"open":       true,
	"exec":       true,
	"eval":       true,
	"compile":    true,
	"__import__": true,
	"input":      true,
	"breakpoint": true,
	"globals":    true,
	"locals":     true,
	"vars":       true,
	"getattr":    true,
	"setattr":    true,
	"delattr":    true,

	// Dunder introspection used in sandbox escapes.
	"__globals__":      true,
	"__builtins__":     true,
	"__subclasses__":   true,
	"__bases__":        true,
	"__mro__":          true,
	"__class__":        true,
	"__code__":         true,
	"__closure__":      true,
	"__func__":         true,
	"__self__":         true,
	"__loader__":       true,
	"__spec__":         true,
	"__getattribute__": true,
	"__reduce__":       true,
	"__reduce_ex__":    true,
}

// Analyze statically checks a snippet before any execution: allow-list-first
// imports and a closed set of forbidden names. A violating snippet never
// spawns a subprocess and never reaches the remote executor.
func Analyze(code string) error {
	stripped := stripLiterals(code)

	if err := checkImports(stripped); err != nil {
		return err
	}

	return checkNames(stripped)
}

func checkImports(code string) error {
	for line := range strings.Lines(code) {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "import "):
			// "import a.b as c, d" — every comma-separated root must be allowed.
			for _, clause := range strings.Split(trimmed[len("import "):], ",") {
				module := moduleRoot(clause)
				if module != "" && !allowedModules[module] {
					return newError(KindSecurityViolation, "import of module %q is not allowed", module)
				}
			}
		case strings.HasPrefix(trimmed, "from "):
			rest := strings.TrimSpace(trimmed[len("from "):])

			module := moduleRoot(rest)
			if module != "" && !allowedModules[module] {
				return newError(KindSecurityViolation, "import from module %q is not allowed", module)
			}
		}
	}

	return nil
}

func moduleRoot(clause string) string {
	clause = strings.TrimSpace(clause)

	end := 0
	for end < len(clause) && (isIdentChar(clause[end]) || clause[end] == '.') {
		end++
	}

	root, _, _ := strings.Cut(clause[:end], ".")

	return root
}

func checkNames(code string) error {
	for i := 0; i < len(code); {
		if !isIdentStart(code[i]) {
			i++

			continue
		}

		start := i
		for i < len(code) && isIdentChar(code[i]) {
			i++
		}

		name := code[start:i]
		if forbiddenNames[name] {
			return newError(KindSecurityViolation, "reference to forbidden name %q", name)
		}
	}

	return nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// stripLiterals removes string literals and comments so identifier and
// import scanning never trips on prose. Handles single/double quotes, triple
// quotes and backslash escapes.
func stripLiterals(code string) string {
	var out strings.Builder

	i := 0
	for i < len(code) {
		c := code[i]

		switch {
		case c == '#':
			for i < len(code) && code[i] != '\n' {
				i++
			}
		case c == '\'' || c == '"':
			quote := code[i : i+1]
			if strings.HasPrefix(code[i:], quote+quote+quote) {
				quote = code[i : i+3]
			}

			i += len(quote)

			for i < len(code) {
				if code[i] == '\\' {
					i += 2

					continue
				}

				if strings.HasPrefix(code[i:], quote) {
					i += len(quote)

					break
				}

				// Keep newlines so import scanning stays line-accurate.
				if code[i] == '\n' {
					out.WriteByte('\n')
				}

				i++
			}
		default:
			out.WriteByte(c)
			i++
		}
	}

	return out.String()
}
