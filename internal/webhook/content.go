package webhook

import "encoding/json"

// Message kind labels carried into the agent payload and the trace.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeAudio    = "audio"
	TypeVideo    = "video"
	TypeDocument = "document"
	TypeSticker  = "sticker"
	TypeOther    = "other"
)

// Placeholders substituted when no text can be derived from media. A
// transcription collaborator may replace these upstream of the agent call.
const (
	PlaceholderImage       = "[Image received]"
	PlaceholderAudio       = "[Audio message received]"
	PlaceholderVideo       = "[Video received]"
	PlaceholderDocument    = "[Document received]"
	PlaceholderSticker     = "[Sticker received]"
	PlaceholderUnsupported = "[Unsupported message type]"
)

type textBody struct {
	Text string `json:"text"`
}

type mediaBody struct {
	Caption  string `json:"caption"`
	FileName string `json:"fileName"`
}

// extractContent maps the channel's nested message variants to a kind
// label and a textual content, falling back to fixed placeholders.
func extractContent(message map[string]json.RawMessage) (kind, content string) {
	if raw, ok := message["conversation"]; ok {
		var text string
		if json.Unmarshal(raw, &text) == nil && text != "" {
			return TypeText, text
		}
	}
	if raw, ok := message["extendedTextMessage"]; ok {
		var body textBody
		if json.Unmarshal(raw, &body) == nil && body.Text != "" {
			return TypeText, body.Text
		}
	}
	if raw, ok := message["imageMessage"]; ok {
		return TypeImage, captionOr(raw, PlaceholderImage)
	}
	if _, ok := message["audioMessage"]; ok {
		return TypeAudio, PlaceholderAudio
	}
	if raw, ok := message["videoMessage"]; ok {
		return TypeVideo, captionOr(raw, PlaceholderVideo)
	}
	if raw, ok := message["documentMessage"]; ok {
		var body mediaBody
		if json.Unmarshal(raw, &body) == nil {
			if body.Caption != "" {
				return TypeDocument, body.Caption
			}
			if body.FileName != "" {
				return TypeDocument, "[Document received: " + body.FileName + "]"
			}
		}
		return TypeDocument, PlaceholderDocument
	}
	if _, ok := message["stickerMessage"]; ok {
		return TypeSticker, PlaceholderSticker
	}
	return TypeOther, PlaceholderUnsupported
}

func captionOr(raw json.RawMessage, placeholder string) string {
	var body mediaBody
	if json.Unmarshal(raw, &body) == nil && body.Caption != "" {
		return body.Caption
	}
	return placeholder
}
