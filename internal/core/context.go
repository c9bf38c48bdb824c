package core

import (
	"strings"

	"gwi.com/recall-chat/internal/store"
	"gwi.com/recall-chat/internal/vectorstore"
)

const longTermMemoryPrefix = "These are some previous messages from the chat, use them to generate a response"

// Unit is one role-tagged piece of text exchanged with the model providers.
type Unit struct {
	Role string
	Text string
}

// BuildContext assembles the provider input: a single long-term memory unit built from
// the recalled matches, followed by the short-term history in chronological order.
// The long-term unit is present even when nothing was recalled.
func BuildContext(matches []vectorstore.Match, history []store.Message) []Unit {
	units := make([]Unit, 0, len(history)+1)
	units = append(units, longTermUnit(matches))
	for _, msg := range history {
		units = append(units, Unit{Role: msg.Role, Text: msg.Content})
	}
	return units
}

func longTermUnit(matches []vectorstore.Match) Unit {
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Metadata.Text != "" {
			texts = append(texts, m.Metadata.Text)
		}
	}
	text := longTermMemoryPrefix
	if len(texts) > 0 {
		text += "\n" + strings.Join(texts, "\n")
	}
	return Unit{Role: store.RoleUser, Text: text}
}

// chronological reverses a newest-first page in place and returns it.
func chronological(msgs []store.Message) []store.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}
