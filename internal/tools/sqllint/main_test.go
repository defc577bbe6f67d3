package main

import (
	"go/parser"
	"go/token"
	"strings"
	"testing"
)

func lintSource(t *testing.T, src string) ([]violation, []statement) {
	t.Helper()
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "q.go", src, parser.ParseComments)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	vs, stmts, err := lintAST(fset, "q.go", file)
	if err != nil {
		t.Fatalf("lintAST: %v", err)
	}
	return vs, stmts
}

func TestLintAcceptsMarkedStatements(t *testing.T) {
	src := "package q\n\nconst cols = `id, status`\n\n" +
		"const QOne = `--sql 59bf78fb-0491-4c89-82f2-095a092f9e63\nselect ` + cols + `\nfrom jobs;`\n"
	vs, stmts := lintSource(t, src)
	if len(vs) != 0 {
		t.Fatalf("unexpected violations: %+v", vs)
	}
	if len(stmts) != 1 || stmts[0].name != "QOne" {
		t.Fatalf("expected one statement QOne, got %+v", stmts)
	}
}

func TestLintFlagsMissingMarkerInConcatenation(t *testing.T) {
	src := "package q\n\nconst cols = `id`\n\nconst QBad = `select ` + cols + ` from jobs;`\n"
	vs, _ := lintSource(t, src)
	if len(vs) != 1 || vs[0].name != "QBad" {
		t.Fatalf("expected one violation for QBad, got %+v", vs)
	}
}

func TestLintIgnoresNonSQLStrings(t *testing.T) {
	src := "package q\n\nconst greeting = \"hello there\"\n"
	vs, stmts := lintSource(t, src)
	if len(vs) != 0 || len(stmts) != 0 {
		t.Fatalf("expected nothing, got %+v %+v", vs, stmts)
	}
}

func TestDuplicateMarkers(t *testing.T) {
	marker := "--sql 59bf78fb-0491-4c89-82f2-095a092f9e63"
	vs := duplicateMarkers([]statement{
		{file: "a.go", name: "QA", line: 3, marker: marker},
		{file: "b.go", name: "QB", line: 7, marker: marker},
		{file: "b.go", name: "QC", line: 9, marker: "--sql 372ed34e-f9be-4145-98f7-aa2edf8df19a"},
	})
	if len(vs) != 1 {
		t.Fatalf("expected one duplicate, got %+v", vs)
	}
	if vs[0].name != "QB" || !strings.Contains(vs[0].message, "a.go:3") {
		t.Fatalf("unexpected violation %+v", vs[0])
	}
}
