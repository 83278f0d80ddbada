package openai

type openAIMessage struct {
	Type    messageType `json:"type"`
	Role    messageRole `json:"role,omitempty"`
	Content string      `json:"content,omitempty"`
}

type messageRole string

const (
	messageRoleDeveloper messageRole = "developer"
	messageRoleUser      messageRole = "user"
)

type messageType string

const messageTypeMessage messageType = "message"

func toOpenAIMessages(instructions string, prompt string) []openAIMessage {
	messages := []openAIMessage{}
	if instructions != "" {
		messages = append(messages, openAIMessage{
			Type:    messageTypeMessage,
			Role:    messageRoleDeveloper,
			Content: instructions,
		})
	}

	return append(messages, openAIMessage{
		Type:    messageTypeMessage,
		Role:    messageRoleUser,
		Content: prompt,
	})
}
