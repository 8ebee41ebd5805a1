package streaming

import (
	"encoding/base64"
	"strings"

	"github.com/lexiqai/tts-gateway/internal/segment"
)

// EventKind tags an Event
type EventKind int

const (
	EventText EventKind = iota
	EventAudio
	EventError
	EventEnd
)

// Wire prefixes for encoded events
const (
	PrefixText  = "TEXT_SEGMENT:"
	PrefixAudio = "AUDIO_CHUNK:"
	PrefixError = "ERROR:"
	TokenEnd    = "AUDIO_END"
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventAudio:
		return "audio"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is one element of a segmented stream. Unit is set for every event
// except EventEnd; Audio is a private copy owned by the receiver.
type Event struct {
	Kind    EventKind
	Unit    segment.Unit
	Audio   []byte
	Message string
}

// Encode renders e in the text wire format
func Encode(e Event) string {
	switch e.Kind {
	case EventText:
		return PrefixText + e.Unit.Content
	case EventAudio:
		return PrefixAudio + base64.StdEncoding.EncodeToString(e.Audio)
	case EventError:
		return PrefixError + e.Message
	default:
		return TokenEnd
	}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// EncodeLine is Encode with line breaks in text and messages replaced by
// spaces, so that one event always occupies one line
func EncodeLine(e Event) string {
	switch e.Kind {
	case EventText:
		return PrefixText + lineBreaks.Replace(e.Unit.Content)
	case EventError:
		return PrefixError + lineBreaks.Replace(e.Message)
	default:
		return Encode(e)
	}
}
