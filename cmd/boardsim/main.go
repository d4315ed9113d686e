// Command boardsim loads a board description and either runs a batch of
// Lua test scripts against it or drives the board live, optionally
// bridging a UART console to the terminal and/or capturing a VCD trace.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avrsim/boardsim/internal/boardyaml"
	"github.com/avrsim/boardsim/internal/luatest"
	"github.com/avrsim/boardsim/pkg/clock"
	"github.com/avrsim/boardsim/pkg/vcd"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "test":
		cmdTest(os.Args[2:])
	case "run":
		cmdRun(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: boardsim test [--config PATH] [--verbose] [--vcd FILE] <script.lua...>")
	fmt.Fprintln(os.Stderr, "       boardsim run [--config PATH] [--uart NAME] [--vcd FILE] [duration]")
}

// cmdTest runs every named Lua script against a fresh load of the
// configured board, printing a PASS/FAIL line per script and exiting
// non-zero if any failed.
func cmdTest(args []string) {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	config := fs.String("config", "board.yaml", "Board description to load")
	verbose := fs.Bool("verbose", false, "Print the board message log for failed scripts")
	vcdPath := fs.String("vcd", "", "Write a VCD capture to this path for each script run (.gz suffix gzips)")
	fs.Parse(args)

	scripts := fs.Args()
	if len(scripts) == 0 {
		fmt.Fprintln(os.Stderr, "test: at least one script is required")
		os.Exit(2)
	}

	allPassed := true
	for _, script := range scripts {
		var result luatest.Result
		if *vcdPath != "" {
			loaded, f, deployed, err := loadWithVCD(*config, vcdTracePath(*vcdPath, script))
			if err != nil {
				log.Fatalf("test: %v", err)
			}
			result = luatest.RunLoaded(loaded, script)
			deployed.Close()
			f.Close()
		} else {
			result = luatest.Run(*config, script)
		}

		fmt.Printf("%s: %s\n", script, result)
		if result.Outcome != luatest.Success {
			allPassed = false
			if *verbose {
				for _, msg := range result.Messages {
					fmt.Printf("  %s\n", msg)
				}
			}
		}
	}
	if !allPassed {
		os.Exit(1)
	}
}

// cmdRun loads the board once and drives it either for a fixed
// simulated duration or, if none is given, in one-second simulated
// slices until interrupted (not paced to the wall clock), optionally
// bridging a named UART console to the terminal.
func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	config := fs.String("config", "board.yaml", "Board description to load")
	uartName := fs.String("uart", "", "Bridge this component's UART console to stdin/stdout")
	vcdPath := fs.String("vcd", "", "Write a VCD capture to this path (.gz suffix gzips)")
	fs.Parse(args)

	loaded, err := boardyaml.Load(*config)
	if err != nil {
		log.Fatalf("run: %v", err)
	}

	if *uartName != "" {
		console, ok := loaded.Consoles[*uartName]
		if !ok {
			log.Fatalf("run: no uart console named %q in %s", *uartName, *config)
		}
		console.Bridge(os.Stdin, os.Stdout)
	}

	var deployed *vcd.Deployed
	if *vcdPath != "" {
		f, err := vcd.CreateFile(*vcdPath)
		if err != nil {
			log.Fatalf("run: %v", err)
		}
		defer f.Close()
		recv := vcd.NewReceiver(f)
		for _, t := range loaded.VCDTargets {
			recv.Register(t.Name, t.Sender)
		}
		deployed = recv.Deploy()
		defer deployed.Close()
	}

	if fs.NArg() > 0 {
		seconds, err := time.ParseDuration(fs.Arg(0) + "s")
		if err != nil {
			log.Fatalf("run: invalid duration %q: %v", fs.Arg(0), err)
		}
		loaded.Board.RunFor(secondsToTimeDiff(seconds.Seconds()))
		return
	}

	for {
		loaded.Board.RunFor(secondsToTimeDiff(1))
	}
}

// secondsToTimeDiff converts wall-clock seconds into the board's
// Timestamp unit, picoseconds (mcu.TicksPerCycle's unit — a 16MHz
// crystal's tick period divides evenly into it).
func secondsToTimeDiff(seconds float64) clock.TimeDiff {
	const picosecondsPerSecond = 1e12
	return clock.TimeDiff(seconds * picosecondsPerSecond)
}

// loadWithVCD loads configPath fresh and registers its VCD-enabled
// components against a receiver writing to path, returning the loaded
// board so the caller runs its script against the same instance the
// signals were registered on.
func loadWithVCD(configPath, path string) (*boardyaml.Loaded, io.WriteCloser, *vcd.Deployed, error) {
	loaded, err := boardyaml.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	f, err := vcd.CreateFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	recv := vcd.NewReceiver(f)
	for _, t := range loaded.VCDTargets {
		recv.Register(t.Name, t.Sender)
	}
	return loaded, f, recv.Deploy(), nil
}

// vcdTracePath derives a per-script trace file from the --vcd flag's
// base path so running several test scripts with one --vcd flag
// doesn't overwrite the same file: "out.vcd" + "scripts/blink.lua"
// becomes "out.blink.vcd".
func vcdTracePath(base, script string) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(filepath.Base(script), filepath.Ext(script))
	return strings.TrimSuffix(base, ext) + "." + stem + ext
}
