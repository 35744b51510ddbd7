package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// Frame terminator. Every command and response is one newline-delimited line.
const Delimiter = '\n'

const (
	VerbPing       = "PING"
	VerbSub        = "SUB"
	VerbUnsub      = "UNSUB"
	VerbPub        = "PUB"
	VerbSend       = "SEND"
	VerbRecv       = "RECV"
	VerbDisconnect = "DISCONNECT"
)

var (
	ErrEmptyFrame      = errors.New("empty frame")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrChannelRequired = errors.New("channel required")
	ErrPayloadRequired = errors.New("message required")
	ErrTrailingInput   = errors.New("unexpected arguments")
)

// Command is one decoded inbound frame. Channel and Payload are only set for
// the verbs that carry them.
type Command struct {
	Verb    string
	Channel string
	Payload []byte
}

var commandPool = sync.Pool{
	New: func() interface{} {
		return &Command{}
	},
}

func AcquireCommand() *Command {
	cmd := commandPool.Get().(*Command)
	cmd.Verb = ""
	cmd.Channel = ""
	cmd.Payload = nil
	return cmd
}

func ReleaseCommand(cmd *Command) {
	if cmd == nil {
		return
	}
	cmd.Verb = ""
	cmd.Channel = ""
	cmd.Payload = nil
	commandPool.Put(cmd)
}

// Parse decodes a single frame (without its trailing newline) into a Command.
// A trailing carriage return is tolerated for line-mode clients. The payload
// slice aliases the input line; callers that retain it must copy.
func Parse(line []byte) (*Command, error) {
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, ErrEmptyFrame
	}

	verb, rest := splitToken(line)

	cmd := AcquireCommand()
	cmd.Verb = string(verb)

	switch cmd.Verb {
	case VerbPing, VerbRecv, VerbDisconnect:
		if len(rest) != 0 {
			ReleaseCommand(cmd)
			return nil, fmt.Errorf("%w after %s", ErrTrailingInput, string(verb))
		}
		return cmd, nil

	case VerbSub, VerbUnsub:
		channel, extra := splitToken(rest)
		if len(channel) == 0 {
			ReleaseCommand(cmd)
			return nil, ErrChannelRequired
		}
		if len(extra) != 0 {
			ReleaseCommand(cmd)
			return nil, fmt.Errorf("%w after channel", ErrTrailingInput)
		}
		cmd.Channel = string(channel)
		return cmd, nil

	case VerbPub:
		channel, payload := splitToken(rest)
		if len(channel) == 0 {
			ReleaseCommand(cmd)
			return nil, ErrChannelRequired
		}
		if len(payload) == 0 {
			ReleaseCommand(cmd)
			return nil, ErrPayloadRequired
		}
		cmd.Channel = string(channel)
		cmd.Payload = payload
		return cmd, nil

	case VerbSend:
		if len(rest) == 0 {
			ReleaseCommand(cmd)
			return nil, ErrPayloadRequired
		}
		cmd.Payload = rest
		return cmd, nil

	default:
		unknown := cmd.Verb
		ReleaseCommand(cmd)
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, unknown)
	}
}

// splitToken splits off the first space-delimited token. The remainder starts
// after exactly one separating space so internal payload whitespace survives.
func splitToken(line []byte) (token, rest []byte) {
	i := bytes.IndexByte(line, ' ')
	if i < 0 {
		return line, nil
	}
	return line[:i], line[i+1:]
}

// pre-encoded common responses
var (
	PongLine      = []byte("PONG\n")
	OkLine        = []byte("OK\n")
	EmptyLine     = []byte("EMPTY\n")
	RateLimitLine = []byte("ERR rate limited\n")
)

// OkCountLine encodes the PUB acknowledgement carrying the recipient count.
func OkCountLine(recipients int) []byte {
	buf := make([]byte, 0, 8)
	buf = append(buf, "OK "...)
	buf = strconv.AppendInt(buf, int64(recipients), 10)
	return append(buf, Delimiter)
}

// ErrLine encodes an ERR response. The connection stays open after an ERR.
func ErrLine(reason string) []byte {
	buf := make([]byte, 0, len(reason)+5)
	buf = append(buf, "ERR "...)
	buf = append(buf, reason...)
	return append(buf, Delimiter)
}

// MessageLine frames a delivered payload as a single line.
func MessageLine(payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	return append(buf, Delimiter)
}
