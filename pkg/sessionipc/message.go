/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package sessionipc

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
)

const (
	KindSetEnv              = "set_env"
	KindNewPrivilegedClient = "new_privileged_client"

	// The length prefix is a native-endian uint16.
	MaxMessageSize = math.MaxUint16

	headerSize = 2
)

var (
	ErrMessageTooLarge = errors.New("sessionipc: message too large")
	ErrInvalidMessage  = errors.New("sessionipc: invalid message")
)

// Message is one JSON document on the session socket, tagged by Kind.
type Message struct {
	Kind string `json:"message"`

	// set_env
	Variables map[string]string `json:"variables"`

	// new_privileged_client
	Count int `json:"count"`
}

// MarshalJSON writes only the fields of message's kind. The session manager
// requires them to be present, so set_env always carries a variables object.
func (message Message) MarshalJSON() ([]byte, error) {
	switch message.Kind {
	case KindSetEnv:
		variables := message.Variables
		if variables == nil {
			variables = map[string]string{}
		}

		return json.Marshal(struct {
			Kind      string            `json:"message"`
			Variables map[string]string `json:"variables"`
		}{message.Kind, variables})

	case KindNewPrivilegedClient:
		return json.Marshal(struct {
			Kind  string `json:"message"`
			Count int    `json:"count"`
		}{message.Kind, message.Count})

	default:
		return json.Marshal(struct {
			Kind string `json:"message"`
		}{message.Kind})
	}
}

func SetEnv(variables map[string]string) Message {
	return Message{
		Kind:      KindSetEnv,
		Variables: variables,
	}
}

func NewPrivilegedClient(count int) Message {
	return Message{
		Kind:  KindNewPrivilegedClient,
		Count: count,
	}
}

// Encode writes message as a length-prefixed frame in a single write.
func Encode(writer io.Writer, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return ErrInvalidMessage.Wrap(err)
	}

	if len(body) > MaxMessageSize {
		return ErrMessageTooLarge.Wrap(errors.Newf("%d bytes", len(body)))
	}

	frame := make([]byte, headerSize+len(body))
	binary.NativeEndian.PutUint16(frame, uint16(len(body)))
	copy(frame[headerSize:], body)

	_, err = writer.Write(frame)
	return err
}

// Decode reads exactly one frame from reader. It never reads past the end of
// the frame, so descriptors sent right after it are left on the socket.
func Decode(reader io.Reader) (Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return Message{}, err
	}

	body := make([]byte, binary.NativeEndian.Uint16(header[:]))
	if _, err := io.ReadFull(reader, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}

	var message Message
	if err := json.Unmarshal(body, &message); err != nil {
		return Message{}, ErrInvalidMessage.Wrap(err)
	}
	if message.Kind == "" {
		return Message{}, ErrInvalidMessage.Wrap(errors.New("missing message tag"))
	}

	return message, nil
}
