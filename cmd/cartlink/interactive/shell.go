// Package interactive provides the command interpreter of cartlink, used
// both for one-shot commands and the readline shell.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/cartlink/cartlink-go/pkg/connection"
	"github.com/cartlink/cartlink-go/pkg/gateway"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

// ErrUsage is returned for malformed command arguments.
var ErrUsage = errors.New("usage")

// ShellConfig provides configuration to the shell without depending on the
// main package's config structure.
type ShellConfig interface {
	// DefaultTarget is the device to connect to when none is given.
	DefaultTarget() (connection.Target, bool)

	// Timeout bounds blocking downloads.
	Timeout() time.Duration
}

type command struct {
	usage   string
	summary string
	min     int
	run     func(ctx context.Context, args []string) error

	// attached commands connect to the default target first when needed.
	attached bool
}

// Shell executes cartlink commands against a gateway.
type Shell struct {
	gw     *gateway.Gateway
	config ShellConfig
	out    io.Writer
	now    func() time.Time
	rl     *readline.Instance

	commands map[string]*command
	order    []string
	aliases  map[string]string
}

// NewShell creates a shell writing its output to out.
func NewShell(gw *gateway.Gateway, cfg ShellConfig, out io.Writer) *Shell {
	s := &Shell{
		gw:      gw,
		config:  cfg,
		out:     out,
		now:     time.Now,
		aliases: map[string]string{"?": "help", "q": "quit", "exit": "quit", "dir": "ls", "r": "read", "w": "write"},
	}
	s.register()
	return s
}

// New creates a shell bound to a readline prompt.
func New(gw *gateway.Gateway, cfg ShellConfig) (*Shell, error) {
	s := NewShell(gw, cfg, io.Discard)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "cartlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    readline.NewPrefixCompleter(s.completions()...),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	s.rl = rl
	s.out = rl.Stdout()
	return s, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use it for log output while the shell runs.
func (s *Shell) Stdout() io.Writer {
	if s.rl != nil {
		return s.rl.Stdout()
	}
	return s.out
}

// Stderr returns a writer that coordinates with the readline prompt.
func (s *Shell) Stderr() io.Writer {
	if s.rl != nil {
		return s.rl.Stderr()
	}
	return s.out
}

// Run reads and executes commands until quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if err := s.Exec(ctx, args); err != nil {
			if errors.Is(err, ErrQuit) {
				fmt.Fprintln(s.out, "Exiting...")
				cancel()
				return
			}
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

// Exec runs a single command. args[0] is the command name.
func (s *Shell) Exec(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no command", ErrUsage)
	}
	name := strings.ToLower(args[0])
	if alias, ok := s.aliases[name]; ok {
		name = alias
	}
	cmd, ok := s.commands[name]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", args[0])
	}
	rest := args[1:]
	if len(rest) < cmd.min {
		return fmt.Errorf("%w: %s %s", ErrUsage, name, cmd.usage)
	}
	if cmd.attached {
		if err := s.ensureAttached(ctx); err != nil {
			return err
		}
	}
	return cmd.run(ctx, rest)
}

// ensureAttached connects to the default target when nothing is attached.
func (s *Shell) ensureAttached(ctx context.Context) error {
	if s.gw.Connection().IsAttached() {
		return nil
	}
	target, ok := s.target()
	if !ok {
		return connection.ErrNotAttached
	}
	return s.connect(ctx, target)
}

// target picks the configured target, then the last one used.
func (s *Shell) target() (connection.Target, bool) {
	if s.config != nil {
		if t, ok := s.config.DefaultTarget(); ok {
			return t, true
		}
	}
	return s.gw.Connection().LastTarget()
}

func (s *Shell) connect(ctx context.Context, t connection.Target) error {
	res, err := s.gw.Connect(ctx, t.Implementation, t.Options)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Attached %s via %s (firmware %s, %s)\n",
		res.Device.ID, t.Implementation, res.FirmwareVersion, res.VersionString)
	return nil
}

func (s *Shell) add(name, usage, summary string, min int, attached bool, run func(context.Context, []string) error) {
	s.commands[name] = &command{usage: usage, summary: summary, min: min, attached: attached, run: run}
	s.order = append(s.order, name)
}

func (s *Shell) register() {
	s.commands = make(map[string]*command)

	s.add("connect", "[impl [address [device]]]", "Connect and attach to a device", 0, false, s.cmdConnect)
	s.add("disconnect", "", "Close the connection", 0, false, s.cmdDisconnect)
	s.add("status", "", "Show connection status", 0, false, s.cmdStatus)
	s.add("devices", "", "List devices reported by the transport", 0, true, s.cmdDevices)
	s.add("info", "", "Show firmware and running ROM", 0, true, s.cmdInfo)

	s.add("ls", "[dir]", "List a directory", 0, true, s.cmdList)
	s.add("mkdir", "<dir>", "Create a directory and its parents", 1, true, s.cmdMkdir)
	s.add("rm", "<path>", "Remove a file or empty directory", 1, true, s.cmdRemove)
	s.add("mv", "<from> <to>", "Rename a file or directory", 2, true, s.cmdRename)
	s.add("put", "<local> [remote]", "Upload a file", 1, true, s.cmdPut)
	s.add("get", "<remote> [local]", "Download a file", 1, true, s.cmdGet)
	s.add("stage", "<local>...", "Upload files into a new run directory", 1, true, s.cmdStage)

	s.add("read", "<addr> <len> [<addr> <len>...]", "Read memory ranges in one batch", 2, true, s.cmdRead)
	s.add("write", "<addr> <hex> [<addr> <hex>...]", "Write memory ranges in one batch", 2, true, s.cmdWrite)

	s.add("boot", "<path>", "Boot a ROM", 1, true, s.cmdBoot)
	s.add("menu", "", "Return to the menu", 0, true, s.cmdMenu)
	s.add("reset", "", "Reset the running game", 0, true, s.cmdReset)

	s.add("help", "", "Show this help", 0, false, func(context.Context, []string) error {
		s.printHelp()
		return nil
	})
	s.add("quit", "", "Exit", 0, false, func(context.Context, []string) error { return ErrQuit })
}

func (s *Shell) completions() []readline.PrefixCompleterInterface {
	items := make([]readline.PrefixCompleterInterface, 0, len(s.order))
	for _, name := range s.order {
		items = append(items, readline.PcItem(name))
	}
	return items
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, "\nCartlink Commands:")
	for _, name := range s.order {
		cmd := s.commands[name]
		fmt.Fprintf(s.out, "  %-44s - %s\n", strings.TrimSpace(name+" "+cmd.usage), cmd.summary)
	}
	fmt.Fprintln(s.out, "\n  Addresses are hex (F50000 is WRAM, E00000 is SRAM).")
}
