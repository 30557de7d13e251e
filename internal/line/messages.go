package line

// Message is one outbound LINE message value. Only the fields for the given
// Type are serialized.
type Message struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	AltText  string    `json:"altText,omitempty"`
	Template *Template `json:"template,omitempty"`
}

type Template struct {
	Type    string   `json:"type"`
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions"`
}

type Action struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Text  string `json:"text,omitempty"`
	Data  string `json:"data,omitempty"`
}

// maxTemplateActions is the provider's hard cap on buttons per template.
const maxTemplateActions = 4

func NewTextMessage(text string) Message {
	return Message{Type: "text", Text: text}
}

// NewButtonsMessage builds a buttons template, truncating the action list to
// the provider limit.
func NewButtonsMessage(altText, title, text string, actions ...Action) Message {
	if len(actions) > maxTemplateActions {
		actions = actions[:maxTemplateActions]
	}
	return Message{
		Type:    "template",
		AltText: altText,
		Template: &Template{
			Type:    "buttons",
			Title:   title,
			Text:    text,
			Actions: actions,
		},
	}
}

func MessageAction(label, text string) Action {
	return Action{Type: "message", Label: label, Text: text}
}

func PostbackAction(label, data string) Action {
	return Action{Type: "postback", Label: label, Data: data}
}
