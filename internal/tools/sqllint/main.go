// Command sqllint checks that every inline SQL constant starts with a
// "--sql <uuid>" audit marker and that no marker is used twice.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	sqlMarkerPattern  = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with)\b`)
	uuidMarkerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

// statement is one SQL constant with its resolved marker line.
type statement struct {
	file   string
	name   string
	line   int
	marker string
}

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"."}
	}

	var (
		violations []violation
		statements []statement
	)
	collect := func(path string) error {
		vs, stmts, err := lintFile(path)
		if err != nil {
			return err
		}
		violations = append(violations, vs...)
		statements = append(statements, stmts...)
		return nil
	}

	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
			os.Exit(1)
		}
		if info.IsDir() {
			walkErr := filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					if strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") || d.Name() == "vendor" {
						return filepath.SkipDir
					}
					return nil
				}
				if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
					return nil
				}
				return collect(path)
			})
			if walkErr != nil {
				fmt.Fprintf(os.Stderr, "sqllint: %v\n", walkErr)
				os.Exit(1)
			}
		} else if filepath.Ext(target) == ".go" {
			if err := collect(target); err != nil {
				fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
				os.Exit(1)
			}
		}
	}
	violations = append(violations, duplicateMarkers(statements)...)

	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "sqllint: SQL audit marker violations")
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "  %s:%d %s (%s)\n", v.file, v.line, v.message, v.name)
		}
		os.Exit(1)
	}
}

func lintFile(path string) ([]violation, []statement, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, nil, err
	}
	return lintAST(fset, path, file)
}

func lintAST(fset *token.FileSet, path string, file *ast.File) ([]violation, []statement, error) {
	decls := map[string]ast.Expr{}
	var specs []*ast.ValueSpec
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		specs = append(specs, vs)
		for i, name := range vs.Names {
			if i < len(vs.Values) {
				decls[name.Name] = vs.Values[i]
			}
		}
		return true
	})

	var (
		violations []violation
		statements []statement
	)
	for _, vs := range specs {
		for i, value := range vs.Values {
			raw, ok := evalString(value, decls, map[string]bool{})
			if !ok || !sqlMarkerPattern.MatchString(raw) {
				continue
			}
			name := joinNames(vs.Names)
			if i < len(vs.Names) {
				name = vs.Names[i].Name
			}
			pos := fset.Position(value.Pos())
			marker := firstLine(raw)
			if !uuidMarkerPattern.MatchString(marker) {
				violations = append(violations, violation{
					file:    path,
					line:    pos.Line,
					name:    name,
					message: "missing or invalid --sql <uuid> marker",
				})
				continue
			}
			statements = append(statements, statement{file: path, name: name, line: pos.Line, marker: marker})
		}
	}
	return violations, statements, nil
}

// evalString folds string literals, references to other string declarations
// in the same file, and "+" concatenations of both.
func evalString(expr ast.Expr, decls map[string]ast.Expr, seen map[string]bool) (string, bool) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		if e.Kind != token.STRING {
			return "", false
		}
		s, err := unquote(e.Value)
		return s, err == nil
	case *ast.Ident:
		target, ok := decls[e.Name]
		if !ok || seen[e.Name] {
			return "", false
		}
		seen[e.Name] = true
		defer delete(seen, e.Name)
		return evalString(target, decls, seen)
	case *ast.ParenExpr:
		return evalString(e.X, decls, seen)
	case *ast.BinaryExpr:
		if e.Op != token.ADD {
			return "", false
		}
		left, ok := evalString(e.X, decls, seen)
		if !ok {
			return "", false
		}
		right, ok := evalString(e.Y, decls, seen)
		if !ok {
			return "", false
		}
		return left + right, true
	}
	return "", false
}

func duplicateMarkers(stmts []statement) []violation {
	first := map[string]statement{}
	var violations []violation
	for _, st := range stmts {
		if prev, ok := first[st.marker]; ok {
			violations = append(violations, violation{
				file:    st.file,
				line:    st.line,
				name:    st.name,
				message: fmt.Sprintf("marker reused from %s:%d (%s)", prev.file, prev.line, prev.name),
			})
			continue
		}
		first[st.marker] = st
	}
	return violations
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident == nil {
			continue
		}
		parts = append(parts, ident.Name)
	}
	return strings.Join(parts, ",")
}
