// File: internal/validator/roslog.go
// Support for ingesting recorded ROS capability-event logs: JSON exports of
// the /capabilities/events topic as produced by rosbridge-style tooling.

package validator

import (
	"strings"
)

const capabilityTopic = "/capabilities/events"

// maxTypeLen bounds the capability type derived from free-form event text.
const maxTypeLen = 60

// rosLogEntry is one entry of a recorded topic export.
type rosLogEntry struct {
	Topic string `json:"topic"`
	Msg   struct {
		Header struct {
			Stamp struct {
				Secs  int64 `json:"secs"`
				Nsecs int64 `json:"nsecs"`
			} `json:"stamp"`
		} `json:"header"`
		Source struct {
			Capability string `json:"capability"`
		} `json:"source"`
		Target struct {
			Capability string `json:"capability"`
			Text       string `json:"text"`
		} `json:"target"`
	} `json:"msg"`
}

// ParseCapabilityLog converts a recorded ROS capability-event log into raw
// events ready for validation. Entries on other topics or without a source
// capability are skipped. Sequence numbers are assigned in file order
// starting after baseSeq, so a replayed log forms a single ordered source.
func ParseCapabilityLog(payload []byte, baseSeq uint64) ([]RawLogEvent, error) {
	var entries []rosLogEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, err
	}

	out := make([]RawLogEvent, 0, len(entries))
	seq := baseSeq
	for _, it := range entries {
		if it.Topic != capabilityTopic {
			continue
		}
		src := strings.TrimSpace(it.Msg.Source.Capability)
		if src == "" {
			continue
		}
		tgt := strings.TrimSpace(it.Msg.Target.Capability)
		if tgt == "" {
			tgt = src
		}
		text := strings.TrimSpace(it.Msg.Target.Text)
		if text == "" {
			text = "event"
		}

		seq++
		out = append(out, RawLogEvent{
			Seq:        seq,
			Timestamp:  float64(it.Msg.Header.Stamp.Secs) + float64(it.Msg.Header.Stamp.Nsecs)*1e-9,
			Source:     src,
			Target:     tgt,
			Capability: eventTypeFromText(text),
			Weight:     1,
			Text:       text,
		})
	}
	return out, nil
}

// RawLogEvent is a replayed log entry: a raw event plus the original
// free-form text, which is preserved into the metadata bag.
type RawLogEvent struct {
	Seq        uint64
	Timestamp  float64
	Source     string
	Target     string
	Capability string
	Weight     float64
	Text       string
}

// eventTypeFromText derives the categorical capability type from the
// free-form event text: everything before the first colon, truncated.
func eventTypeFromText(text string) string {
	typ := text
	if idx := strings.Index(typ, ":"); idx >= 0 {
		typ = typ[:idx]
	}
	runes := []rune(typ)
	if len(runes) > maxTypeLen {
		typ = string(runes[:maxTypeLen])
	}
	return typ
}
