// Package luatest runs a board description against a Lua test script,
// exposing the five globals a script uses to drive and observe a
// board: execute, set_wire, get_wire, set_wires, get_wires.
package luatest

import (
	"fmt"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/avrsim/boardsim/internal/boardyaml"
	"github.com/avrsim/boardsim/pkg/avr/mcu"
	"github.com/avrsim/boardsim/pkg/clock"
)

// Outcome classifies a test run's result.
type Outcome int

const (
	// Success means the Lua script ran to completion without error.
	Success Outcome = iota
	// Failure means the script itself reported a failed assertion
	// (reserved for a future explicit "fail(msg)" global; gopher-lua
	// scripts currently signal failure the same way as a runtime
	// error, via Error, since Lua's error() is the only failure
	// primitive a script has).
	Failure
	// Error means the script failed to load or run, or the board
	// failed to load.
	Error
)

// Result is one test script's outcome.
type Result struct {
	Outcome  Outcome
	Duration time.Duration
	Err      error
	// Messages is the board's shared message log (LED transitions,
	// etc.) at the time of failure, for --verbose diagnostics.
	Messages []string
}

// Run loads boardPath fresh, runs scriptPath's Lua source against it,
// and reports the outcome. A fresh board is constructed for every
// call so test scripts never observe state left behind by another
// script.
func Run(boardPath, scriptPath string) Result {
	loaded, err := boardyaml.Load(boardPath)
	if err != nil {
		return Result{Outcome: Error, Err: err}
	}
	return RunLoaded(loaded, scriptPath)
}

// RunLoaded runs scriptPath against an already-constructed board,
// for callers (the CLI's --vcd path) that must register VCD signals
// against the exact board instance the script will drive before
// running it.
func RunLoaded(loaded *boardyaml.Loaded, scriptPath string) Result {
	src, err := os.ReadFile(scriptPath)
	if err != nil {
		return Result{Outcome: Error, Err: err}
	}

	L := lua.NewState()
	defer L.Close()
	bindGlobals(L, loaded)

	start := time.Now()
	err = L.DoString(string(src))
	elapsed := time.Since(start)

	if err != nil {
		return Result{
			Outcome:  Error,
			Duration: elapsed,
			Err:      err,
			Messages: loaded.Board.Tables.Messages(),
		}
	}
	return Result{Outcome: Success, Duration: elapsed}
}

// bindGlobals installs execute/set_wire/get_wire/set_wires/get_wires
// as globals closing over loaded's board.
func bindGlobals(L *lua.LState, loaded *boardyaml.Loaded) {
	b := loaded.Board

	L.SetGlobal("execute", L.NewFunction(func(L *lua.LState) int {
		cycles := L.CheckInt64(1)
		b.RunFor(clock.TimeDiff(cycles) * mcu.TicksPerCycle)
		return 0
	}))

	L.SetGlobal("set_wire", L.NewFunction(func(L *lua.LState) int {
		id := L.CheckString(1)
		value := L.CheckBool(2)
		if err := b.SetWireByName(id, value); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}))

	L.SetGlobal("get_wire", L.NewFunction(func(L *lua.LState) int {
		id := L.CheckString(1)
		v, err := b.GetWireByName(id)
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		L.Push(lua.LBool(v))
		return 1
	}))

	L.SetGlobal("set_wires", L.NewFunction(func(L *lua.LState) int {
		comp := L.CheckString(1)
		msb := uint8(L.CheckInt(2))
		lsb := uint8(L.CheckInt(3))
		value := uint64(L.CheckInt64(4))
		if err := b.SetWires(comp, msb, lsb, value); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}))

	L.SetGlobal("get_wires", L.NewFunction(func(L *lua.LState) int {
		comp := L.CheckString(1)
		msb := uint8(L.CheckInt(2))
		lsb := uint8(L.CheckInt(3))
		v, err := b.GetWires(comp, msb, lsb)
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		L.Push(lua.LNumber(v))
		return 1
	}))
}

// String renders a one-line pass/fail summary for the CLI's default
// (non-verbose) output.
func (r Result) String() string {
	switch r.Outcome {
	case Success:
		return fmt.Sprintf("PASS (%s)", r.Duration)
	default:
		return fmt.Sprintf("FAIL: %v", r.Err)
	}
}
