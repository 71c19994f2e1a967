package behavior

import (
	"fmt"
	"strings"
	"time"
)

const promptTimeFormat = "Mon, 02 Jan 2006 15:04"

// PromptText renders the context as plain text for the decision oracle.
func (c *Context) PromptText() string {
	var b strings.Builder

	b.WriteString("USER PROFILE:\n")
	fmt.Fprintf(&b, "- Username: %s\n", c.Profile.Username)
	fmt.Fprintf(&b, "- Member Since: %d days ago\n", int(c.BuiltAt.Sub(c.Profile.CreatedAt).Hours()/24))
	fmt.Fprintf(&b, "- Last Active: %s\n", formatTime(c.Profile.LastActive))

	b.WriteString("\nRECENT BEHAVIOR (Last 7 Days):\n")
	fmt.Fprintf(&b, "- Messages Sent: %d\n", c.Recent.Messages)
	fmt.Fprintf(&b, "- Voice Time: %d hours\n", c.Recent.VoiceTimeHours)
	fmt.Fprintf(&b, "- Total Activities: %d\n", c.Recent.TotalActivities)
	fmt.Fprintf(&b, "- Most Active Day: %s\n", c.Recent.MostActiveDay)
	fmt.Fprintf(&b, "- Peak Hours: %s\n", joinOr(c.Recent.PeakHours, "unknown"))
	fmt.Fprintf(&b, "- Last Activity: %s at %s\n", lastActivity(c.Recent.LastActivityType), formatTime(c.Recent.LastActivityTime))

	if c.Community != nil {
		b.WriteString("\nCOMMUNITY CONTEXT:\n")
		fmt.Fprintf(&b, "- Name: %s\n", c.Community.Name)
		fmt.Fprintf(&b, "- Members: %d\n", c.Community.MemberCount)
		fmt.Fprintf(&b, "- Channels: %d\n", c.Community.ChannelCount)
		fmt.Fprintf(&b, "- Activity Last 24h: %d events\n", c.Community.ActivityLast24h)
	}

	b.WriteString("\nSTATUS FLAGS:\n")
	fmt.Fprintf(&b, "- New Member: %t\n", c.Flags.NewMember)
	fmt.Fprintf(&b, "- Inactive (>48h): %t\n", c.Flags.Inactive)
	fmt.Fprintf(&b, "- Highly Engaged: %t\n", c.Flags.HighlyEngaged)
	fmt.Fprintf(&b, "- Been Quiet: %t\n", c.Flags.Quiet)

	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(promptTimeFormat)
}

func lastActivity(et EventType) string {
	if et == "" {
		return "none"
	}
	return string(et)
}

func joinOr(vals []string, fallback string) string {
	if len(vals) == 0 {
		return fallback
	}
	return strings.Join(vals, ", ")
}
