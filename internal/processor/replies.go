package processor

import "fmt"

// User-facing reply bodies. Keep these short: they land on phones.
const (
	replyHelp = "Hi! Forward me a voice note and I'll send back a short summary.\n\n" +
		"Commands:\nSTOP - disable summaries\nSTART - enable summaries\nHUMAN - talk to a person"

	replyOptOutDone = "You're opted out. I won't process your voice notes anymore. Send START to turn summaries back on."

	replyOptInDone = "Welcome back! Voice note summaries are on again."

	replyEscalation = "Got it - a human will get back to you as soon as possible."

	replyFailure = "Sorry, something went wrong while processing your voice note. Please try sending it again."

	replyNoSpeech = "Sorry, I couldn't understand that voice note. Could you try recording it again?"

	summaryFooter = "Reply STOP to unsubscribe."
)

func replyWait(seconds int) string {
	if seconds < 1 {
		seconds = 1
	}
	return fmt.Sprintf("One at a time please! Wait about %d seconds and resend your voice note.", seconds)
}

func summaryReply(summary string) string {
	return summary + "\n\n" + summaryFooter
}
