// Package dispatch routes inbound webhook events through the admission
// components and out to the message bridge.
package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Segment is one part of a bridge message array, inbound or outbound.
type Segment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

func Text(s string) Segment {
	return Segment{Type: "text", Data: map[string]string{"text": s}}
}

func At(userID int64) Segment {
	return Segment{Type: "at", Data: map[string]string{"qq": strconv.FormatInt(userID, 10)}}
}

func ImageURL(url string) Segment {
	return Segment{Type: "image", Data: map[string]string{"url": url}}
}

func ImageBase64(payload []byte) Segment {
	return Segment{Type: "image", Data: map[string]string{
		"file": "base64://" + base64.StdEncoding.EncodeToString(payload),
	}}
}

// Event is an inbound message delivery. ID is assigned on receipt, not
// carried on the wire.
type Event struct {
	ID          string    `json:"-"`
	Time        int64     `json:"time"`
	SelfID      int64     `json:"self_id"`
	PostType    string    `json:"post_type"`
	MessageType string    `json:"message_type"`
	UserID      int64     `json:"user_id"`
	GroupID     int64     `json:"group_id"`
	RawMessage  string    `json:"raw_message"`
	Message     []Segment `json:"message"`
}

func DecodeEvent(r io.Reader) (Event, error) {
	var ev Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	ev.ID = uuid.NewString()
	return ev, nil
}

func (e Event) IsPrivate() bool { return e.MessageType == "private" }
func (e Event) IsGroup() bool   { return e.MessageType == "group" }

// Identity is the sender's stable identity string used by the admission
// components.
func (e Event) Identity() string {
	return strconv.FormatInt(e.UserID, 10)
}

// PlainText concatenates the text segments, falling back to the raw
// message when the bridge sent no segment array. A leading at CQ code in
// the raw message is stripped, mirroring what segment concatenation does
// naturally, so routing and the model never see the markup.
func (e Event) PlainText() string {
	if len(e.Message) == 0 {
		raw := strings.TrimSpace(e.RawMessage)
		if strings.HasPrefix(raw, "[CQ:at,qq=") {
			if end := strings.Index(raw, "]"); end > 0 {
				raw = strings.TrimSpace(raw[end+1:])
			}
		}
		return raw
	}
	var b strings.Builder
	for _, seg := range e.Message {
		if seg.Type == "text" {
			b.WriteString(seg.Data["text"])
		}
	}
	return strings.TrimSpace(b.String())
}

// Mentions reports whether the message addresses selfID, either as an at
// segment or as a leading CQ code in the raw message.
func (e Event) Mentions(selfID int64) bool {
	self := strconv.FormatInt(selfID, 10)
	for _, seg := range e.Message {
		if seg.Type == "at" && seg.Data["qq"] == self {
			return true
		}
	}
	return strings.HasPrefix(e.RawMessage, "[CQ:at,qq="+self+"]")
}

// ImageURLs collects the URLs of every image segment.
func (e Event) ImageURLs() []string {
	var urls []string
	for _, seg := range e.Message {
		if seg.Type != "image" {
			continue
		}
		if url := seg.Data["url"]; url != "" {
			urls = append(urls, url)
		}
	}
	return urls
}
