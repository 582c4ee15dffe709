// Package command parses raw chat text into typed commands.
//
// A command is a leading exclamation-prefixed uppercase token followed by free
// text, e.g. "!PROMPT make the background purple". Recognized tokens map to a
// fixed Kind; the payload is the remaining text with the token stripped.
package command

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind is the closed set of actions a chat command can request.
type Kind int

const (
	// Unknown is an unrecognized token; it is only produced by ParseLenient.
	Unknown Kind = iota
	// StoreChatMessage forwards the payload to the AI agent.
	StoreChatMessage
	// SetTheme switches the on-screen theme.
	SetTheme
	// SetSong queues a track on the music client.
	SetSong
)

// Chat tokens recognized by the parser.
const (
	TokenPrompt = "!PROMPT"
	TokenSet    = "!SET"
	TokenPlay   = "!PLAY"
)

// Persisted command tags (chat_messages.command).
const (
	tagStore   = "!STORE"
	tagSet     = "!SET"
	tagPlay    = "!PLAY"
	tagUnknown = "UNKNOWN"
)

var (
	// ErrMalformed means no leading command token was found.
	ErrMalformed = errors.New("malformed input: no command token")
	// ErrUnknownCommand means a token was found but is not recognized.
	ErrUnknownCommand = errors.New("unknown command")
)

// ParseError describes why a chat line could not be parsed.
type ParseError struct {
	Input string
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("parse %q: %v %s", e.Input, e.Err, e.Token)
	}
	return fmt.Sprintf("parse %q: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Command is a parsed chat command and its payload.
type Command struct {
	Kind Kind
	Text string
}

// tokenPattern takes the payload from the first line only.
var tokenPattern = regexp.MustCompile(`^(![A-Z]+)\s+(.*)`)

var tokens = map[string]Kind{
	TokenPrompt: StoreChatMessage,
	TokenSet:    SetTheme,
	TokenPlay:   SetSong,
}

// Parse extracts the command from raw chat text. Unrecognized tokens yield
// ErrUnknownCommand; text without a token (or without a payload) yields ErrMalformed.
func Parse(raw string) (Command, error) {
	cmd, token, err := parse(raw)
	if err != nil {
		return Command{}, err
	}
	if cmd.Kind == Unknown {
		return Command{}, &ParseError{Input: raw, Token: token, Err: ErrUnknownCommand}
	}
	return cmd, nil
}

// ParseLenient is like Parse but maps unrecognized tokens to Unknown carrying the
// payload. Text without any token still fails with ErrMalformed.
func ParseLenient(raw string) (Command, error) {
	cmd, _, err := parse(raw)
	return cmd, err
}

func parse(raw string) (Command, string, error) {
	m := tokenPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Command{}, "", &ParseError{Input: raw, Err: ErrMalformed}
	}
	token, text := m[1], strings.TrimSpace(m[2])
	if text == "" {
		return Command{}, token, &ParseError{Input: raw, Token: token, Err: ErrMalformed}
	}
	return Command{Kind: tokens[token], Text: text}, token, nil
}

// String returns the persisted tag for k.
func (k Kind) String() string {
	switch k {
	case StoreChatMessage:
		return tagStore
	case SetTheme:
		return tagSet
	case SetSong:
		return tagPlay
	default:
		return tagUnknown
	}
}

// Name returns a short lowercase label, used for metrics and logs.
func (k Kind) Name() string {
	switch k {
	case StoreChatMessage:
		return "store_chat_message"
	case SetTheme:
		return "set_theme"
	case SetSong:
		return "set_song"
	default:
		return "unknown"
	}
}

// KindFromTag maps a persisted tag back to its Kind. Unrecognized tags are Unknown.
func KindFromTag(tag string) Kind {
	switch strings.TrimSpace(tag) {
	case tagStore:
		return StoreChatMessage
	case tagSet:
		return SetTheme
	case tagPlay:
		return SetSong
	default:
		return Unknown
	}
}

// KindFromToken maps a chat token, with or without the leading "!", to its Kind.
// ok is false when the token is not recognized.
func KindFromToken(token string) (k Kind, ok bool) {
	t := strings.ToUpper(strings.TrimSpace(token))
	if !strings.HasPrefix(t, "!") {
		t = "!" + t
	}
	k, ok = tokens[t]
	return k, ok
}
