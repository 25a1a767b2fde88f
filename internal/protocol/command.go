package protocol

import (
	"fmt"
	"strings"
)

type CommandKind int

const (
	CommandList CommandKind = iota + 1
	CommandDownload
	CommandExit
)

func (k CommandKind) String() string {
	switch k {
	case CommandList:
		return CmdList
	case CommandDownload:
		return CmdDownload
	case CommandExit:
		return CmdExit
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Command is one client request.
type Command struct {
	Kind     CommandKind
	Filename string
}

func ListCommand() Command { return Command{Kind: CommandList} }

func ExitCommand() Command { return Command{Kind: CommandExit} }

func DownloadCommand(filename string) Command {
	return Command{Kind: CommandDownload, Filename: filename}
}

// Encode renders the command as a wire token.
func (c Command) Encode() string {
	if c.Kind == CommandDownload {
		return CmdDownload + FieldSeparator + EscapeName(c.Filename)
	}
	return c.Kind.String()
}

// ParseCommand decodes a wire token. Unknown verbs and malformed
// downloads return an error wrapping ErrProtocol. A malformed download
// still reports Kind CommandDownload so the server can answer it.
func ParseCommand(token string) (Command, error) {
	switch {
	case token == CmdList:
		return ListCommand(), nil
	case token == CmdExit:
		return ExitCommand(), nil
	case token == CmdDownload:
		return Command{Kind: CommandDownload}, fmt.Errorf("%w: download request without file name", ErrProtocol)
	case strings.HasPrefix(token, CmdDownload+FieldSeparator):
		raw := strings.TrimPrefix(token, CmdDownload+FieldSeparator)
		if raw == "" || strings.Contains(raw, FieldSeparator) {
			return Command{Kind: CommandDownload}, fmt.Errorf("%w: malformed download request %q", ErrProtocol, truncate(token, 64))
		}
		name, err := UnescapeName(raw)
		if err != nil {
			return Command{Kind: CommandDownload}, err
		}
		return DownloadCommand(name), nil
	default:
		return Command{}, fmt.Errorf("%w: unrecognized command %q", ErrProtocol, truncate(token, 64))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
