package oracle

import (
	"fmt"
	"strings"
	"time"

	"pulsebot/internal/behavior"
)

const systemInstruction = `You are an intelligent community assistant that decides when and how to notify users.

Your role is to:
1. Analyze user activity patterns and engagement trends
2. Decide whether a user needs a notification based on their behavior
3. Determine the tone and content of the message

RESPONSE FORMAT (strict JSON):
{
  "shouldNotify": boolean,
  "priority": "low" | "medium" | "high",
  "tone": "friendly" | "hype" | "calm" | "encouraging",
  "message": "max 2 lines, personalized message",
  "reason": "why this decision was made"
}

RULES FOR DECISION MAKING:
- Only notify if the user has been inactive for >24 hours AND was previously active
- Don't notify new members (<1 week) unless highly relevant
- Prioritize positive engagement (events, friend activity, achievements)
- Maximum 1 notification per 12 hours per user
- Don't be repetitive - vary message content

TONE SELECTION:
- "friendly": Default, casual conversation
- "hype": For exciting events or achievements
- "calm": For gentle reminders
- "encouraging": For re-engagement with inactive users`

// buildPrompt combines the fixed instruction with the serialized context
// and signals for one request.
func buildPrompt(now time.Time, dctx *behavior.Context, sig behavior.Signals) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\nBased on this user's activity and community context, decide if they should receive a notification now.\n\n")
	b.WriteString(dctx.PromptText())

	b.WriteString("\nBEHAVIORAL SIGNALS:\n")
	fmt.Fprintf(&b, "- Inactivity Level: %s\n", sig.InactivityLevel)
	fmt.Fprintf(&b, "- Engagement Trend: %s\n", sig.EngagementTrend)
	fmt.Fprintf(&b, "- User Mood: %s\n", sig.Mood)
	fmt.Fprintf(&b, "- Social State: %s\n", sig.SocialState)
	fmt.Fprintf(&b, "- Primary Interests: %s\n", interestsOrUnknown(sig.TopicInterests))

	fmt.Fprintf(&b, "\nCurrent Time: %s\n", now.Format("Mon, 02 Jan 2006 15:04"))
	b.WriteString("\nMake a decision: Should we notify this user? If yes, what should we say?\nRespond ONLY with valid JSON.")
	return b.String()
}

func interestsOrUnknown(topics []string) string {
	if len(topics) == 0 {
		return "Unknown"
	}
	return strings.Join(topics, ", ")
}
