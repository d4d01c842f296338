package telephony

import (
	"encoding/xml"
	"fmt"
	"strings"
)

type twimlParameter struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

type twimlStream struct {
	XMLName    xml.Name `xml:"Stream"`
	URL        string   `xml:"url,attr"`
	Parameters []twimlParameter
}

type twimlConnect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  twimlStream
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect twimlConnect
}

// StreamTwiML renders the call-control document that tells Twilio to open a
// bidirectional media stream to streamURL. Both numbers ride along as custom
// stream parameters so the media handler knows which caller it is serving.
func StreamTwiML(streamURL, toNumber, fromNumber string) ([]byte, error) {
	if strings.TrimSpace(streamURL) == "" {
		return nil, fmt.Errorf("stream url is required")
	}

	doc := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{
				URL: streamURL,
				Parameters: []twimlParameter{
					{Name: "to_number", Value: toNumber},
					{Name: "from_number", Value: fromNumber},
				},
			},
		},
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// StreamURL derives the wss:// media stream endpoint from the service's
// public base URL.
func StreamURL(publicBaseURL string) string {
	base := strings.TrimRight(publicBaseURL, "/")
	base = strings.TrimPrefix(base, "https://")
	base = strings.TrimPrefix(base, "http://")
	return "wss://" + base + "/ws"
}
