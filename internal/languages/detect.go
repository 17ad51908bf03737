/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package languages

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

const contentSniffLines = 20

var ErrLanguageNotDetected = errors.New("cannot detect language")

var defaultExtensions = map[string]string{
	".py": "python", ".pyw": "python", ".pyi": "python",
	".cs": "csharp", ".csx": "csharp",
	".fs": "fsharp", ".fsx": "fsharp", ".fsi": "fsharp",
	".vb":   "vbnet",
	".java": "java",
	".js":   "javascript", ".mjs": "javascript", ".cjs": "javascript", ".jsx": "javascript",
	".ts": "typescript", ".tsx": "typescript",
	".go":  "go",
	".rs":  "rust",
	".cpp": "cpp", ".cxx": "cpp", ".cc": "cpp", ".hpp": "cpp",
	".c": "c", ".h": "c",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin", ".kts": "kotlin",
	".scala": "scala", ".sc": "scala",
	".lua": "lua",
	".pl":  "perl", ".pm": "perl",
	".r":    "r",
	".m":    "matlab",
	".jl":   "julia",
	".dart": "dart",
	".ex":   "elixir", ".exs": "elixir",
	".clj": "clojure", ".cljs": "clojure",
	".erl": "erlang", ".hrl": "erlang",
	".hs": "haskell", ".lhs": "haskell",
	".ml": "ocaml", ".mli": "ocaml",
	".nim": "nim",
	".cr":  "crystal",
	".zig": "zig",
}

type shebangPattern struct {
	interpreter string
	language    string
}

// Matched in order, by substring of the interpreter name.
var defaultShebangPatterns = []shebangPattern{
	{"python", "python"},
	{"node", "javascript"},
	{"ruby", "ruby"},
	{"perl", "perl"},
	{"php", "php"},
	{"bash", "bash"},
	{"sh", "shell"},
	{"lua", "lua"},
	{"julia", "julia"},
}

// Detector infers the language of a source file from its extension,
// then its shebang line, then its content.
type Detector struct {
	lock       sync.RWMutex
	extensions map[string]string
	shebangs   []shebangPattern
}

func NewDetector() *Detector {
	d := &Detector{
		extensions: make(map[string]string, len(defaultExtensions)),
		shebangs:   append([]shebangPattern(nil), defaultShebangPatterns...),
	}
	for ext, lang := range defaultExtensions {
		d.extensions[ext] = lang
	}
	return d
}

// AddExtension maps a file extension (with the leading dot, possibly compound like ".spec.ts") to a language.
func (d *Detector) AddExtension(ext, language string) {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	d.extensions[strings.ToLower(ext)] = language
}

// AddShebangPattern maps interpreters whose name contains the pattern to a language.
// Patterns added later take precedence.
func (d *Detector) AddShebangPattern(pattern, language string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.shebangs = append([]shebangPattern{{pattern, language}}, d.shebangs...)
}

func (d *Detector) Detect(file string) (string, error) {
	if lang := d.byExtension(file); lang != "" {
		return lang, nil
	}

	if isFile(file) {
		if lang := d.byShebang(file); lang != "" {
			return lang, nil
		}
		if lang := byContent(file); lang != "" {
			return lang, nil
		}
	}

	return "", fmt.Errorf("%w for file: %s", ErrLanguageNotDetected, file)
}

// IsSupported reports whether the language of the file can be detected.
func (d *Detector) IsSupported(file string) bool {
	_, detectErr := d.Detect(file)
	return detectErr == nil
}

// Extensions returns all known file extensions.
func (d *Detector) Extensions() []string {
	d.lock.RLock()
	defer d.lock.RUnlock()
	exts := make([]string, 0, len(d.extensions))
	for ext := range d.extensions {
		exts = append(exts, ext)
	}
	return exts
}

func (d *Detector) byExtension(file string) string {
	suffixes := fileSuffixes(filepath.Base(file))

	d.lock.RLock()
	defer d.lock.RUnlock()

	// Longest compound suffix first, so ".spec.ts" can win over ".ts".
	for i := range suffixes {
		if lang, found := d.extensions[strings.ToLower(strings.Join(suffixes[i:], ""))]; found {
			return lang
		}
	}
	return ""
}

// fileSuffixes splits "a.spec.ts" into [".spec", ".ts"]. Leading dots of hidden files are not suffixes.
func fileSuffixes(name string) []string {
	name = strings.TrimLeft(name, ".")
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return nil
	}
	suffixes := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		if p == "" {
			return nil
		}
		suffixes = append(suffixes, "."+p)
	}
	return suffixes
}

func (d *Detector) byShebang(file string) string {
	lines, readErr := readLines(file, 1)
	if readErr != nil || len(lines) == 0 {
		return ""
	}
	first := lines[0]
	if !strings.HasPrefix(first, "#!") {
		return ""
	}

	fields := strings.Fields(strings.TrimSpace(first[2:]))
	if len(fields) == 0 {
		return ""
	}

	var interpreter string
	if path.Base(fields[0]) == "env" {
		if len(fields) < 2 {
			return ""
		}
		interpreter = path.Base(fields[len(fields)-1])
	} else {
		interpreter = path.Base(fields[0])
	}
	interpreter = strings.TrimRight(interpreter, "0123456789.")

	d.lock.RLock()
	defer d.lock.RUnlock()
	for _, p := range d.shebangs {
		if strings.Contains(interpreter, p.interpreter) {
			return p.language
		}
	}
	return ""
}

func byContent(file string) string {
	lines, readErr := readLines(file, contentSniffLines)
	if readErr != nil {
		return ""
	}
	content := strings.Join(lines, "\n")

	switch {
	case containsAny(content, "def ", "class ", "__name__") && !containsAny(content, "{", ";"):
		return "python"
	case containsAny(content, "package main", "func main()", "import ("):
		return "go"
	case containsAny(content, "import java", "public static void main"):
		return "java"
	case containsAny(content, "using ", "namespace ", "public class", "private class"):
		return "csharp"
	case containsAny(content, "fn main()", "impl ", "use std"):
		return "rust"
	case containsAny(content, "const ", "let ", "var ", "function ", "require(", "import "):
		if containsAny(content, "interface ", "type ", ": ") {
			return "typescript"
		}
		return "javascript"
	}
	return ""
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func readLines(file string, max int) ([]string, error) {
	f, openErr := os.Open(file)
	if openErr != nil {
		return nil, openErr
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for len(lines) < max && scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	return lines, scanner.Err()
}
