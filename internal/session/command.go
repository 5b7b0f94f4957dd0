package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// CommandKind identifies an in-room action.
type CommandKind int

const (
	CommandChat CommandKind = iota
	CommandMic
	CommandCamera
	CommandScreen
	CommandPeers
	CommandLeave
)

// Command is a user action delivered to a running session.
type Command struct {
	Kind CommandKind
	Text string
}

// ErrUnknownCommand is returned by ParseInput for unrecognised slash commands.
var ErrUnknownCommand = errors.New("unknown command")

// Help lists the in-room commands.
const Help = "/mic, /cam, /screen, /peers, /leave, /chat <text>; anything else is sent as chat"

// ParseInput turns one line of user input into a Command. Lines that do
// not start with a slash are chat; a leading "//" sends a literal slash.
func ParseInput(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, errors.New("empty input")
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: CommandChat, Text: line}, nil
	}
	if strings.HasPrefix(line, "//") {
		return Command{Kind: CommandChat, Text: line[1:]}, nil
	}

	args, err := shellwords.Parse(line[1:])
	if err != nil {
		return Command{}, fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return Command{}, fmt.Errorf("%w: /", ErrUnknownCommand)
	}

	switch strings.ToLower(args[0]) {
	case "mic", "mute":
		return Command{Kind: CommandMic}, nil
	case "cam", "camera", "video":
		return Command{Kind: CommandCamera}, nil
	case "screen", "share":
		return Command{Kind: CommandScreen}, nil
	case "peers", "who":
		return Command{Kind: CommandPeers}, nil
	case "leave", "quit", "exit":
		return Command{Kind: CommandLeave}, nil
	case "chat", "say":
		text := strings.Join(args[1:], " ")
		if text == "" {
			return Command{}, errors.New("usage: /chat <text>")
		}
		return Command{Kind: CommandChat, Text: text}, nil
	}
	return Command{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, args[0])
}
