// Package boardyaml loads a board description — the YAML document
// naming each MCU's flash image and passive children (LEDs, UART
// consoles) and the static net-list wiring them together — into a
// runnable *board.Board.
package boardyaml

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/avr/mcu"
	"github.com/avrsim/boardsim/pkg/board"
	"github.com/avrsim/boardsim/pkg/components"
	"github.com/avrsim/boardsim/pkg/sched"
	"github.com/avrsim/boardsim/pkg/vcd"
)

// doc is the top-level YAML document shape.
type doc struct {
	Components map[string]componentDoc `yaml:"components"`
	Wires      []wireDoc                `yaml:"wires"`
}

// componentDoc is one entry of a "components:" map, either an MCU (with
// its own nested passive "components:") or a passive leaf (led/uart).
type componentDoc struct {
	Type       string                  `yaml:"type"`
	Memory     string                  `yaml:"memory"`
	VCD        bool                    `yaml:"vcd"`
	Components map[string]componentDoc `yaml:"components"`

	Parity         string `yaml:"parity"`
	DoubleStopBit  bool   `yaml:"double_stop_bit"`
	CharSize       int    `yaml:"char_size"`
	InvertPolarity bool   `yaml:"invert_polarity"`
}

type wireDoc struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// VCDTarget pairs a board-relative name with the module that should be
// registered under it, for a CLI that wants VCD capture to hand
// straight to a vcd.Receiver.
type VCDTarget struct {
	Name   string
	Sender vcd.Sender
}

// Loaded is a fully constructed board plus the bits a CLI needs beyond
// the board itself: which components asked for VCD capture, and which
// named UART consoles exist for a --uart bridge flag to find.
type Loaded struct {
	Board      *board.Board
	VCDTargets []VCDTarget
	Consoles   map[string]*components.UartConsole
}

// Load reads and parses the board description at path, resolving any
// relative "memory:" hex paths against path's directory, and returns a
// fully wired, ready-to-run board.
func Load(path string) (*Loaded, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("boardyaml: %w", err)
	}
	defer f.Close()

	var d doc
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("boardyaml: parsing %s: %w", path, err)
	}

	l := &Loaded{
		Board:    board.New(sched.NewTables()),
		Consoles: make(map[string]*components.UartConsole),
	}
	baseDir := filepath.Dir(path)

	for _, name := range sortedKeys(d.Components) {
		c := d.Components[name]
		if c.Type != "mcu" {
			return nil, fmt.Errorf("boardyaml: top-level component %q must be type \"mcu\", got %q", name, c.Type)
		}
		if err := l.addMCU(name, c, baseDir); err != nil {
			return nil, err
		}
	}

	for _, w := range d.Wires {
		from, err := l.Board.PinAddress(w.From)
		if err != nil {
			return nil, fmt.Errorf("boardyaml: wire %q: %w", w.From, err)
		}
		to, err := l.Board.PinAddress(w.To)
		if err != nil {
			return nil, fmt.Errorf("boardyaml: wire %q: %w", w.To, err)
		}
		l.Board.Tables.Wiring.AddWire(from, []addr.Pin{to})
	}

	return l, nil
}

// addMCU constructs one active module from its componentDoc: loads its
// flash image, mounts its nested passive children, and registers the
// bank-letter sub-names ("<name>.A".."<name>.L") a wire reference like
// "mcu.A:3" resolves against.
func (l *Loaded) addMCU(name string, c componentDoc, baseDir string) error {
	if c.Memory == "" {
		return fmt.Errorf("boardyaml: mcu %q missing required \"memory\" field", name)
	}
	hexPath := c.Memory
	if !filepath.IsAbs(hexPath) {
		hexPath = filepath.Join(baseDir, hexPath)
	}
	f, err := os.Open(hexPath)
	if err != nil {
		return fmt.Errorf("boardyaml: mcu %q: %w", name, err)
	}
	defer f.Close()
	flash, err := mcu.LoadHex(f)
	if err != nil {
		return fmt.Errorf("boardyaml: mcu %q: %w", name, err)
	}

	prefix := l.Board.NextRootPrefix()
	m := mcu.New(l.Board.Tables, prefix)
	m.LoadFlash(flash)
	l.Board.AddModule(name, m)

	for _, letter := range []byte{'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'J', 'K', 'L'} {
		bankAddr, err := m.IO().BankAddress(letter)
		if err != nil {
			return fmt.Errorf("boardyaml: mcu %q: %w", name, err)
		}
		l.Board.RegisterName(fmt.Sprintf("%s.%c", name, letter), bankAddr)
	}

	if c.VCD {
		l.VCDTargets = append(l.VCDTargets, VCDTarget{Name: name + ".io", Sender: m.IO()})
	}

	childNames := sortedKeys(c.Components)
	nextChild := uint8(1)
	for _, childName := range childNames {
		child := c.Components[childName]
		fullName := name + "." + childName
		if err := l.addPassive(m, fullName, nextChild, child); err != nil {
			return err
		}
		nextChild++
	}
	return nil
}

// addPassive mounts one passive leaf (LED or UART console) as childID
// on m, registering its board-global name.
func (l *Loaded) addPassive(m *mcu.MCU, fullName string, childID uint8, c componentDoc) error {
	moduleID := m.Address().ChildID(childID)
	switch c.Type {
	case "led":
		led := components.NewLED(moduleID)
		m.AttachPassive(childID, led)
		l.Board.RegisterName(fullName, moduleID)
		if c.VCD {
			l.VCDTargets = append(l.VCDTargets, VCDTarget{Name: fullName, Sender: led})
		}
	case "uart":
		parity, err := parseParity(c.Parity)
		if err != nil {
			return fmt.Errorf("boardyaml: uart %q: %w", fullName, err)
		}
		charSize := c.CharSize
		if charSize == 0 {
			charSize = 8
		}
		if charSize < 5 || charSize > 9 {
			return fmt.Errorf("boardyaml: uart %q: char_size %d out of range 5..9", fullName, charSize)
		}
		console := components.NewUartConsole(moduleID, components.UartConsoleConfig{
			Parity:         parity,
			DoubleStopBit:  c.DoubleStopBit,
			CharSize:       uint8(charSize),
			InvertPolarity: c.InvertPolarity,
		})
		m.AttachPassive(childID, console)
		l.Board.RegisterName(fullName, moduleID)
		l.Consoles[fullName] = console
		if c.VCD {
			l.VCDTargets = append(l.VCDTargets, VCDTarget{Name: fullName, Sender: console})
		}
	default:
		return fmt.Errorf("boardyaml: component %q has unknown type %q", fullName, c.Type)
	}
	return nil
}

func parseParity(s string) (components.ConsoleParity, error) {
	switch s {
	case "", "none":
		return components.ConsoleParityDisabled, nil
	case "even":
		return components.ConsoleParityEven, nil
	case "odd":
		return components.ConsoleParityOdd, nil
	default:
		return 0, fmt.Errorf("unknown parity %q", s)
	}
}

func sortedKeys(m map[string]componentDoc) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
