package deepgram

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

// resultsMessage is the subset of a "Results" event voxnote reads.
type resultsMessage struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []struct {
		Word           string  `json:"word"`
		PunctuatedWord string  `json:"punctuated_word"`
		Start          float64 `json:"start"`
		End            float64 `json:"end"`
		Confidence     float64 `json:"confidence"`
	} `json:"words"`
}

// parseMessage turns a server text frame into a transcript. Metadata,
// SpeechStarted, UtteranceEnd, malformed frames and results without speech
// report false.
func parseMessage(data []byte) (stt.Transcript, bool) {
	var msg resultsMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "Results" {
		return stt.Transcript{}, false
	}
	if len(msg.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}
	best := msg.Channel.Alternatives[0]
	if strings.TrimSpace(best.Transcript) == "" {
		return stt.Transcript{}, false
	}

	t := stt.Transcript{
		Text:               best.Transcript,
		IsFinal:            msg.IsFinal,
		Confidence:         best.Confidence,
		ConfidenceReported: true,
		Timestamp:          secs(msg.Start),
		Duration:           secs(msg.Duration),
	}
	if len(best.Words) > 0 {
		t.Words = make([]stt.WordDetail, len(best.Words))
		for i, w := range best.Words {
			word := w.PunctuatedWord
			if word == "" {
				word = w.Word
			}
			t.Words[i] = stt.WordDetail{Word: word, Start: secs(w.Start), End: secs(w.End), Confidence: w.Confidence}
		}
	}
	return t, true
}

func secs(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }
