package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Minimal TwiML / Plivo XML builders for the bridge path.
// They intentionally avoid any provider SDK dependency.
//
// Only the primitives needed at the adapter boundary are included:
// streaming a call into an engine session, and the empty acknowledgement
// bodies the status webhooks must return.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlConnect struct {
	XMLName xml.Name     `xml:"Connect"`
	Stream  *twimlStream `xml:"Stream,omitempty"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// RenderConnectStream produces the TwiML that bridges a Twilio call leg
// into an engine join URL.
func RenderConnectStream(joinURL string) (string, error) {
	if strings.TrimSpace(joinURL) == "" {
		return "", errors.New("telephony: join url required for connect stream")
	}
	r := twimlResponse{Verbs: []any{twimlConnect{Stream: &twimlStream{URL: joinURL}}}}
	return encodeXML(r)
}

// EmptyTwiML is the acknowledgement body Twilio status callbacks expect.
func EmptyTwiML() string {
	return xml.Header + "<Response></Response>"
}

type plivoResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Stream  *plivoStream `xml:"Stream,omitempty"`
}

type plivoStream struct {
	KeepCallAlive string `xml:"keepCallAlive,attr"`
	Bidirectional string `xml:"bidirectional,attr"`
	URL           string `xml:",chardata"`
}

// RenderPlivoStream produces the answer-URL XML that streams a Plivo call
// leg into an engine join URL.
func RenderPlivoStream(joinURL string) (string, error) {
	if strings.TrimSpace(joinURL) == "" {
		return "", errors.New("telephony: join url required for plivo stream")
	}
	r := plivoResponse{Stream: &plivoStream{
		KeepCallAlive: "true",
		Bidirectional: "true",
		URL:           joinURL,
	}}
	return encodeXML(r)
}

func encodeXML(v any) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
