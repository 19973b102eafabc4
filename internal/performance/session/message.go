package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message id tags. Ids have the form "vu{N}_{tag}{seq}".
const (
	TagSingleSlot = "ultra_"
	TagFixedRate  = "msg"
)

// MessageID builds the id of the seq-th message sent by vu.
func MessageID(vu int, tag string, seq int64) string {
	return fmt.Sprintf("vu%d_%s%d", vu, tag, seq)
}

// compactMessage is the payload sent under the single-slot policy. Short
// field names keep frames small at high message rates.
type compactMessage struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"t"`
	VU        int    `json:"v"`
	Counter   int64  `json:"c"`
}

// paddedMessage is the payload sent under the fixed-rate policy.
type paddedMessage struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	VU        int    `json:"vu"`
	Counter   int64  `json:"counter"`
	Data      string `json:"data"`
}

// EncodeMessage renders the seq-th message of vu for policy. The timestamp
// is the send time in Unix milliseconds.
func EncodeMessage(policy Policy, vu int, seq int64, sentAt time.Time) (id string, payload []byte, err error) {
	switch policy {
	case PolicySingleSlot:
		id = MessageID(vu, TagSingleSlot, seq)
		payload, err = json.Marshal(compactMessage{
			ID:        id,
			Timestamp: sentAt.UnixMilli(),
			VU:        vu,
			Counter:   seq,
		})
	case PolicyFixedRate:
		id = MessageID(vu, TagFixedRate, seq)
		payload, err = json.Marshal(paddedMessage{
			ID:        id,
			Timestamp: sentAt.UnixMilli(),
			VU:        vu,
			Counter:   seq,
			Data:      fmt.Sprintf("Test message %d", seq),
		})
	default:
		return "", nil, fmt.Errorf("unknown policy %q", policy)
	}
	return id, payload, err
}

// DecodeErrorKind classifies why a reply frame could not be correlated.
type DecodeErrorKind int

const (
	// DecodeMalformed means the frame is not a JSON object.
	DecodeMalformed DecodeErrorKind = iota
	// DecodeMissingPayload means the reply does not embed the original message.
	DecodeMissingPayload
	// DecodeMissingID means the embedded message has no string id.
	DecodeMissingID
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeMalformed:
		return "malformed reply"
	case DecodeMissingPayload:
		return "reply has no client_message"
	case DecodeMissingID:
		return "client_message has no id"
	default:
		return "unknown decode error"
	}
}

// DecodeError reports a reply frame that cannot be matched to a send.
// Sessions discard such frames; they never end the session.
type DecodeError struct {
	Kind DecodeErrorKind
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a DecodeError of kind.
func IsDecodeError(err error, kind DecodeErrorKind) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == kind
}

// Reply is the envelope the target wraps around every echoed message.
// ClientMessage holds the original frame text verbatim.
type Reply struct {
	MessageID       int64           `json:"message_id"`
	ServerTimestamp int64           `json:"server_timestamp"`
	ClientMessage   *string         `json:"client_message"`
	ConnectionID    int64           `json:"connection_id"`
	System          json.RawMessage `json:"system,omitempty"`
}

type embeddedMessage struct {
	ID *string `json:"id"`
}

// DecodeReply parses a reply frame and returns the id of the message it
// answers.
func DecodeReply(frame []byte) (Reply, string, error) {
	var reply Reply
	if err := json.Unmarshal(frame, &reply); err != nil {
		return Reply{}, "", &DecodeError{Kind: DecodeMalformed, Err: err}
	}
	if reply.ClientMessage == nil {
		return reply, "", &DecodeError{Kind: DecodeMissingPayload}
	}

	var original embeddedMessage
	if err := json.Unmarshal([]byte(*reply.ClientMessage), &original); err != nil {
		return reply, "", &DecodeError{Kind: DecodeMissingID, Err: err}
	}
	if original.ID == nil || *original.ID == "" {
		return reply, "", &DecodeError{Kind: DecodeMissingID}
	}

	return reply, *original.ID, nil
}
