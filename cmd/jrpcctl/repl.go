package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/danmuck/jrpc"
)

const replHelp = `commands:
  method [json]     send a request and print the result
  !method [json]    send a notification
  state             show the connection state
  help              show this help
  quit              leave`

type lineReader interface {
	Readline() (string, error)
}

// replCommand is one parsed REPL line.
type replCommand struct {
	method string
	params string
	notify bool
	quit   bool
	help   bool
	state  bool
}

func parseLine(line string) (replCommand, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return replCommand{}, false
	}
	switch line {
	case "quit", "exit":
		return replCommand{quit: true}, true
	case "help", "?":
		return replCommand{help: true}, true
	case "state":
		return replCommand{state: true}, true
	}
	var cmd replCommand
	if strings.HasPrefix(line, "!") {
		cmd.notify = true
		line = strings.TrimSpace(line[1:])
	}
	method, params, _ := strings.Cut(line, " ")
	cmd.method = method
	cmd.params = strings.TrimSpace(params)
	return cmd, cmd.method != ""
}

func runInteractive(c *jrpc.Client, stdin io.Reader, stdout, stderr io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "jrpc> ",
		Stdin:           io.NopCloser(stdin),
		Stdout:          stdout,
		Stderr:          stderr,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	return repl(c, rl, stdout)
}

// repl runs commands until quit or end of input. Call failures are printed and
// do not end the session.
func repl(c *jrpc.Client, in lineReader, out io.Writer) error {
	for {
		line, err := in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		cmd, ok := parseLine(line)
		if !ok {
			continue
		}
		switch {
		case cmd.quit:
			return nil
		case cmd.help:
			fmt.Fprintln(out, replHelp)
			continue
		case cmd.state:
			fmt.Fprintln(out, c.State())
			continue
		}

		params, err := parseParams(cmd.params)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if err := execute(c, cmd.method, params, cmd.notify, out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if cmd.notify {
			fmt.Fprintln(out, "sent")
		}
	}
}
