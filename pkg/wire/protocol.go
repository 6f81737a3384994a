// Package wire implements the lansync message protocol: length-prefixed
// frames, each carrying a JSON object {"cmd": ..., "data": ...}.
package wire

import (
	"fmt"

	"github.com/yuya-takeyama/lansync/pkg/syncerr"
)

// Command names the kind of a message.
type Command string

const (
	CmdHello     Command = "HELLO"
	CmdList      Command = "LIST"
	CmdGet       Command = "GET"
	CmdFileStart Command = "FSTART"
	CmdFileData  Command = "FDATA"
	CmdFileEnd   Command = "FEND"
	CmdError     Command = "ERROR"
)

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	switch c {
	case CmdHello, CmdList, CmdGet, CmdFileStart, CmdFileData, CmdFileEnd, CmdError:
		return true
	}
	return false
}

// Greetings exchanged during the handshake.
const (
	ClientGreeting = "lansync client"
	ServerGreeting = "lansync server"
)

// GetRequest is the data of a GET message.
type GetRequest struct {
	Filename string `json:"filename"`
}

// FileStart is the data of an FSTART message.
type FileStart struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// FileEnd is the data of an FEND message.
type FileEnd struct {
	Filename string `json:"filename"`
}

// Raw holds an undecoded data field.
type Raw []byte

func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (r *Raw) UnmarshalJSON(b []byte) error {
	*r = append((*r)[:0], b...)
	return nil
}

// Message is one decoded frame.
type Message struct {
	Cmd  Command `json:"cmd"`
	Data Raw     `json:"data"`
}

type envelope struct {
	Cmd  Command `json:"cmd"`
	Data any     `json:"data"`
}

// Decode unmarshals the data field into v.
func (m Message) Decode(v any) error {
	data := m.Data
	if len(data) == 0 {
		data = Raw("null")
	}
	if err := unmarshal(data, v); err != nil {
		return syncerr.Protocol(fmt.Sprintf("decode %s data", m.Cmd), fmt.Errorf("%w: %v", syncerr.ErrMalformed, err))
	}
	return nil
}

// Text decodes a string data field, as carried by HELLO and ERROR.
func (m Message) Text() string {
	var s string
	if err := unmarshal(m.Data, &s); err != nil {
		return string(m.Data)
	}
	return s
}

// Encode renders a message payload.
func Encode(cmd Command, data any) ([]byte, error) {
	payload, err := marshal(envelope{Cmd: cmd, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", cmd, err)
	}
	return payload, nil
}

// Decode parses a message payload.
func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := unmarshal(payload, &msg); err != nil {
		return Message{}, syncerr.Protocol("decode message", fmt.Errorf("%w: %v", syncerr.ErrMalformed, err))
	}
	if !msg.Cmd.Valid() {
		return Message{}, syncerr.Protocol(fmt.Sprintf("unknown command %q", msg.Cmd), syncerr.ErrUnexpectedCommand)
	}
	return msg, nil
}
