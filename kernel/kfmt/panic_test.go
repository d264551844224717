package kfmt

import (
	"bytes"
	"errors"
	"nexke/kernel"
	"nexke/kernel/cpu"
	"testing"
)

// mustPanic runs fn and returns its recovered panic value, failing the test
// if fn returns normally. Panic's side effects (the printed banner,
// cpuHaltFn) all run before its final panic(e), so callers can inspect them
// right after this returns.
func mustPanic(t *testing.T, fn func()) (recovered interface{}) {
	t.Helper()
	defer func() { recovered = recover() }()
	fn()
	t.Fatal("expected Panic to panic")
	return nil
}

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
		outputSink = nil
	}()

	var cpuHaltCalled bool
	cpuHaltFn = func() {
		cpuHaltCalled = true
	}

	t.Run("with *kernel.Error", func(t *testing.T) {
		cpuHaltCalled = false
		var buf bytes.Buffer
		SetOutputSink(&buf)
		err := &kernel.Error{Module: "test", Message: "panic test"}

		got := mustPanic(t, func() { Panic(err) })

		exp := "\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------\n"
		if gotOut := buf.String(); gotOut != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, gotOut)
		}

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt() to be called by Panic")
		}

		if got != interface{}(err) {
			t.Fatalf("expected Panic to re-panic with the original error, got %#v", got)
		}
	})

	t.Run("with error", func(t *testing.T) {
		cpuHaltCalled = false
		var buf bytes.Buffer
		SetOutputSink(&buf)
		err := errors.New("go error")

		got := mustPanic(t, func() { Panic(err) })

		exp := "\n-----------------------------------\n[rt] unrecoverable error: go error\n*** kernel panic: system halted ***\n-----------------------------------\n"
		if gotOut := buf.String(); gotOut != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, gotOut)
		}

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt() to be called by Panic")
		}

		if got != interface{}(err) {
			t.Fatalf("expected Panic to re-panic with the original error, got %#v", got)
		}
	})

	t.Run("with string", func(t *testing.T) {
		cpuHaltCalled = false
		var buf bytes.Buffer
		SetOutputSink(&buf)
		err := "string error"

		got := mustPanic(t, func() { Panic(err) })

		exp := "\n-----------------------------------\n[rt] unrecoverable error: string error\n*** kernel panic: system halted ***\n-----------------------------------\n"
		if gotOut := buf.String(); gotOut != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, gotOut)
		}

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt() to be called by Panic")
		}

		gotErr, ok := got.(*kernel.Error)
		if !ok || gotErr.Module != "rt" || gotErr.Message != "string error" {
			t.Fatalf("expected recovered panic value to be a *kernel.Error{rt, string error}, got %#v", got)
		}
	})

	t.Run("without error", func(t *testing.T) {
		cpuHaltCalled = false
		var buf bytes.Buffer
		SetOutputSink(&buf)

		mustPanic(t, func() { Panic(nil) })

		exp := "\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n"
		if gotOut := buf.String(); gotOut != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, gotOut)
		}

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt() to be called by Panic")
		}
	})
}
