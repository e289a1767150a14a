package uast //nolint:testpackage // Tests need access to internal extractor behavior.

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSymbols_Go(t *testing.T) {
	t.Parallel()

	src := []byte(`package greet

import "fmt"

type Greeter struct {
	Name string
}

func (g *Greeter) Hello() string {
	return fmt.Sprintf("hello %s", g.Name)
}

func New(name string) *Greeter {
	g := &Greeter{Name: name}
	return g
}

// TestNewReturnsGreeter checks that New returns a non-nil greeter.
func TestNewReturnsGreeter(t *testing.T) {
	New("x")
}
`)

	p := NewParser()

	res, err := p.ParseSymbols(context.Background(), "go", "greet/greet.go", src)
	require.NoError(t, err)

	var names []string
	for _, s := range res.Symbols {
		names = append(names, s.QualifiedName)
	}

	assert.Contains(t, names, "greet.Greeter")
	assert.Contains(t, names, "greet.Greeter.Hello")
	assert.Contains(t, names, "greet.New")

	var hasImportEdge bool

	for _, e := range res.Edges {
		if e.Kind == EdgeDependsOn && e.TargetQualifiedName == "fmt" {
			hasImportEdge = true
		}
	}

	assert.True(t, hasImportEdge, "expected a DependsOn edge to fmt")

	require.Len(t, res.TestIntents, 1)
	assert.Equal(t, "TestNewReturnsGreeter", res.TestIntents[0].TestName)
	assert.Contains(t, res.TestIntents[0].IntentText, "non-nil")
}

func TestParseSymbols_Go_SortedAndDeduped(t *testing.T) {
	t.Parallel()

	src := []byte(`package p

func A() {}
func B() { A() }
func C() { A() }
`)

	p := NewParser()

	res, err := p.ParseSymbols(context.Background(), "go", "p/p.go", src)
	require.NoError(t, err)

	for i := 1; i < len(res.Symbols); i++ {
		assert.LessOrEqual(t, res.Symbols[i-1].ID, res.Symbols[i].ID, "symbols must be sorted by id")
	}

	for i := 1; i < len(res.Edges); i++ {
		assert.True(t, !edgeLess(res.Edges[i], res.Edges[i-1]), "edges must be sorted")
	}
}

func TestParseSymbols_Python(t *testing.T) {
	t.Parallel()

	src := []byte(`from .util import helper
from ..pkg import other
import os


class Widget:
    def render(self):
        helper()


def test_widget_renders():
    """renders without error"""
    Widget().render()
`)

	p := NewParser()

	res, err := p.ParseSymbols(context.Background(), "python", "app/widgets/widget.py", src)
	require.NoError(t, err)

	var qualified []string
	for _, s := range res.Symbols {
		qualified = append(qualified, s.QualifiedName)
	}

	assert.Contains(t, qualified, "Widget")
	assert.Contains(t, qualified, "Widget.render")
	assert.Contains(t, qualified, "test_widget_renders")

	require.Len(t, res.TestIntents, 1)
	assert.Equal(t, "renders without error", res.TestIntents[0].IntentText)

	var targets []string
	for _, e := range res.Edges {
		targets = append(targets, e.TargetQualifiedName)
	}

	assert.Contains(t, targets, "os")
}

func TestParseSymbols_Rust(t *testing.T) {
	t.Parallel()

	src := []byte(`use std::collections::HashMap;

struct Cache {
    data: HashMap<String, String>,
}

impl Cache {
    fn get(&self, key: &str) -> Option<&String> {
        self.data.get(key)
    }
}

#[test]
fn test_cache_get_returns_none_for_missing_key() {
    assert!(true);
}
`)

	p := NewParser()

	res, err := p.ParseSymbols(context.Background(), "rust", "src/cache.rs", src)
	require.NoError(t, err)

	var qualified []string
	for _, s := range res.Symbols {
		qualified = append(qualified, s.QualifiedName)
	}

	assert.Contains(t, qualified, "Cache")
	assert.Contains(t, qualified, "Cache::get")

	require.Len(t, res.TestIntents, 1)
	assert.Equal(t, "test_cache_get_returns_none_for_missing_key", res.TestIntents[0].TestName)
}

func TestParseSymbols_TypeScript(t *testing.T) {
	t.Parallel()

	src := []byte(`import { Logger } from './logger';

export class Service {
  run(): void {
    doWork();
  }
}

function doWork(): void {}
`)

	p := NewParser()

	res, err := p.ParseSymbols(context.Background(), "typescript", "src/service.ts", src)
	require.NoError(t, err)

	var qualified []string
	for _, s := range res.Symbols {
		qualified = append(qualified, s.QualifiedName)
	}

	assert.Contains(t, qualified, "Service.run")
	assert.Contains(t, qualified, "doWork")

	var targets []string
	for _, e := range res.Edges {
		targets = append(targets, e.TargetQualifiedName)
	}

	assert.Contains(t, targets, "./logger")
}

func TestResolveCursor_ReturnsEnclosingSymbol(t *testing.T) {
	t.Parallel()

	src := []byte(`package p

func Outer() {
	Inner()
}

func Inner() {}
`)

	p := NewParser()

	result, err := p.ResolveCursor(context.Background(), "go", "p/p.go", src, 4, 2)
	require.NoError(t, err)
	require.NotNil(t, result.Symbol)
	assert.Equal(t, "p.Outer", result.Symbol.QualifiedName)
}

func TestResolveCursor_Rust_UsePath(t *testing.T) {
	t.Parallel()

	src := []byte(`use crate::store::Record;

fn f() {}
`)

	p := NewParser()

	result, err := p.ResolveCursor(context.Background(), "rust", "src/lib.rs", src, 1, 10)
	require.NoError(t, err)
	require.NotNil(t, result.UsePath)
	assert.Equal(t, "crate", result.UsePath.Prefix)
	assert.Contains(t, result.UsePath.Segments, "Record")
}

func TestParseSymbols_UnknownLanguage(t *testing.T) {
	t.Parallel()

	p := NewParser()

	_, err := p.ParseSymbols(context.Background(), "cobol", "x.cob", []byte("IDENTIFICATION DIVISION."))
	require.Error(t, err)
}
