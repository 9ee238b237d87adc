package suggest

import (
	"fmt"
	"strings"
	"time"

	"ripple/cmd/internal/chat"
)

const (
	suggestSystemPrompt = "You are a helpful assistant that generates reply suggestions by analyzing the user's writing style, including punctuation, capitalization, and stylistic choices."

	rewriteSystemPrompt = "You are a helpful assistant that rewrites messages based on user prompts and based on the conversation history. Return only the rewritten message as a plain string without any additional explanations, brackets, or formatting."
)

// timeOfDay buckets the local hour into morning, afternoon, or evening.
func timeOfDay(now time.Time) string {
	switch hour := now.Hour(); {
	case hour < 12:
		return "morning"
	case hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

// elapsedSince phrases how long ago a message was sent.
func elapsedSince(now time.Time, timestampMillis int64) string {
	diff := now.Sub(time.UnixMilli(timestampMillis))
	switch {
	case diff >= time.Hour:
		return fmt.Sprintf("%d hour(s) ago", int(diff.Hours()))
	case diff >= time.Minute:
		return fmt.Sprintf("%d minute(s) ago", int(diff.Minutes()))
	default:
		return "just now"
	}
}

// transcript renders the history with the caller's messages tagged "User" and
// the other side's "Partner", oldest first.
func transcript(messages []chat.Message, userID string) string {
	if len(messages) == 0 {
		return "No messages yet."
	}
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		role := "Partner"
		if m.SenderID == userID {
			role = "User"
		}
		lines = append(lines, role+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}

func openingPrompt(now time.Time) string {
	return fmt.Sprintf(`You are an AI assistant that generates three natural and varied opening messages or greetings for initiating a conversation. The suggestions should closely resemble the user's writing style, including punctuation, capitalization, and any unique stylistic choices. Pay attention to how the user structures sentences, uses abbreviations, emojis, or any other distinctive features.

Ensure that the greetings are appropriate for the time of day: it's currently the %s. The suggestions should be nuanced and not all follow the same sentiment or structure. Provide different options that feel natural and engaging to start a conversation.

If there is no conversation history yet, suggest appropriate opening messages or natural greetings that people usually use when chatting online.

Based on these instructions, generate three opening message suggestions for the user to start a conversation. The suggestions should match the user's writing style and be contextually appropriate for initiating a chat. Output only the suggestions as a JSON array of strings without any additional text, code snippets, or code fences.
`, timeOfDay(now))
}

func replyPrompt(now time.Time, messages []chat.Message, userID string) string {
	elapsed := "no time information available"
	if len(messages) > 0 {
		elapsed = elapsedSince(now, messages[len(messages)-1].Timestamp)
	}
	return fmt.Sprintf(`You are an AI assistant that generates three natural and nuanced reply suggestions based on the conversation history below. The suggestions should closely resemble the user's writing style, including punctuation, capitalization, and any unique stylistic choices. Pay attention to how the user structures sentences, uses abbreviations, emojis, or any other distinctive features.

Ensure that the replies are varied and nuanced; they should not all be similar or follow the same sentiment, especially if the last message was a question. Provide different options that are contextually appropriate, whether positive, neutral, or negative as suitable.

Consider the current time of day: it's currently the %s. Also, the last message was sent %s.

Conversation history:
%s

Based on the conversation, generate three reply suggestions for the user to reply with. The suggestions should be coherent with the current discussion and match the user's writing style. Output only the suggestions as a JSON array of strings without any additional text, code snippets, or code fences.
`, timeOfDay(now), elapsed, transcript(messages, userID))
}

func rewritePrompt(text, instruction string, messages []chat.Message, userID string) string {
	return fmt.Sprintf(`Rewrite the following message: %q with the prompt: %q

Conversation history:
%s

Ensure that the output is solely the rewritten message without any brackets, quotes, or supplementary text.
`, text, instruction, transcript(messages, userID))
}
