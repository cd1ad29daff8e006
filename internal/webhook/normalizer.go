package webhook

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMalformedPayload marks a payload whose structure cannot be decoded.
var ErrMalformedPayload = errors.New("malformed payload")

// InboundMessage is the canonical, channel-agnostic form of one user
// message. It lives only for the duration of a pipeline run.
type InboundMessage struct {
	InstanceName string
	SenderID     string
	SenderName   string
	MessageType  string
	Content      string
	Timestamp    time.Time
	MessageID    string
}

type payloadShape int

const (
	shapeUnknown payloadShape = iota
	shapeEncodedBlob
	shapeMessageArray
	shapeSingleObject
	shapeBareMessage
)

// Normalizer converts raw channel webhooks into canonical messages.
type Normalizer struct {
	logger *slog.Logger
}

func NewNormalizer(log *slog.Logger) *Normalizer {
	return &Normalizer{logger: log.With(slog.String("service", "webhook"))}
}

// envelope mirrors the phone-bridge webhook wrapper. Data may be a raw
// JSON object, an object holding a messages array, or a base64 string
// encoding either of those.
type envelope struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type bridgeKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

type bridgeMessage struct {
	Key              bridgeKey                  `json:"key"`
	PushName         string                     `json:"pushName"`
	Message          map[string]json.RawMessage `json:"message"`
	MessageTimestamp int64                      `json:"messageTimestamp"`
}

type messageBatch struct {
	Messages []json.RawMessage `json:"messages"`
}

// Normalize decodes one webhook body into zero or more canonical inbound
// messages. Self-originated messages are dropped, not errored. Structural
// decode failures return ErrMalformedPayload.
func (n *Normalizer) Normalize(instanceName string, body []byte) ([]InboundMessage, error) {
	raws, err := extractRawMessages(body)
	if err != nil {
		return nil, err
	}

	out := make([]InboundMessage, 0, len(raws))
	for _, raw := range raws {
		var msg bridgeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: message element: %v", ErrMalformedPayload, err)
		}
		if msg.Key.RemoteJid == "" {
			return nil, fmt.Errorf("%w: message element missing sender", ErrMalformedPayload)
		}
		if msg.Key.FromMe {
			n.logger.Debug("dropping self-originated message",
				slog.String("instance", instanceName),
				slog.String("message_id", msg.Key.ID))
			continue
		}

		kind, content := extractContent(msg.Message)
		ts := time.Now().UTC()
		if msg.MessageTimestamp > 0 {
			ts = time.Unix(msg.MessageTimestamp, 0).UTC()
		}
		out = append(out, InboundMessage{
			InstanceName: instanceName,
			SenderID:     msg.Key.RemoteJid,
			SenderName:   msg.PushName,
			MessageType:  kind,
			Content:      content,
			Timestamp:    ts,
			MessageID:    msg.Key.ID,
		})
	}
	return out, nil
}

// extractRawMessages resolves the payload shape once at entry and returns
// the raw message objects it contains.
func extractRawMessages(body []byte) ([]json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	data := env.Data
	shape := detectShape(body, data)

	switch shape {
	case shapeEncodedBlob:
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return nil, fmt.Errorf("%w: encoded data field: %v", ErrMalformedPayload, err)
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: base64 data: %v", ErrMalformedPayload, err)
		}
		var inner json.RawMessage
		if err := json.Unmarshal(decoded, &inner); err != nil {
			return nil, fmt.Errorf("%w: decoded data is not JSON: %v", ErrMalformedPayload, err)
		}
		return splitDataObject(inner)
	case shapeMessageArray, shapeSingleObject:
		return splitDataObject(data)
	case shapeBareMessage:
		return []json.RawMessage{body}, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized payload shape", ErrMalformedPayload)
	}
}

func detectShape(body []byte, data json.RawMessage) payloadShape {
	if len(data) > 0 {
		switch data[0] {
		case '"':
			return shapeEncodedBlob
		case '{', '[':
			var batch messageBatch
			if err := json.Unmarshal(data, &batch); err == nil && batch.Messages != nil {
				return shapeMessageArray
			}
			return shapeSingleObject
		}
	}
	var bare bridgeMessage
	if err := json.Unmarshal(body, &bare); err == nil && bare.Key.RemoteJid != "" {
		return shapeBareMessage
	}
	return shapeUnknown
}

func splitDataObject(data json.RawMessage) ([]json.RawMessage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data field", ErrMalformedPayload)
	}
	if data[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, fmt.Errorf("%w: data array: %v", ErrMalformedPayload, err)
		}
		return arr, nil
	}
	var batch messageBatch
	if err := json.Unmarshal(data, &batch); err == nil && batch.Messages != nil {
		return batch.Messages, nil
	}
	return []json.RawMessage{data}, nil
}
