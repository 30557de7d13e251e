package line

import (
	"encoding/json"
	"fmt"
)

// Inbound webhook event types.
const (
	EventFollow   = "follow"
	EventUnfollow = "unfollow"
	EventMessage  = "message"
	EventPostback = "postback"
)

type Event struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Source     struct {
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
	Postback struct {
		Data string `json:"data"`
	} `json:"postback"`
}

type webhookBody struct {
	Events []Event `json:"events"`
}

// ParseWebhook decodes the inbound webhook envelope {"events": [...]}.
func ParseWebhook(payload []byte) ([]Event, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("parse line webhook: %w", err)
	}
	return body.Events, nil
}
