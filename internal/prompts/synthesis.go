package prompts

import (
	"fmt"
	"time"
)

// weatherTemplate combines forecast JSON with the user's question.
const weatherTemplate = "Weather Data: %s. Answer the user: %s"

// WeatherPrompt returns the synthesis prompt for forecast data.
func WeatherPrompt(data, instruction string) string {
	return fmt.Sprintf(weatherTemplate, data, instruction)
}

// personalTemplate summarizes calendar or mail data. The original
// request is appended so the summary can focus on what was asked.
const personalTemplate = "Personal Data: %s. Summarize this for the user.\nThe user asked: %s"

// PersonalPrompt returns the synthesis prompt for calendar and mail data.
func PersonalPrompt(data, instruction string) string {
	return fmt.Sprintf(personalTemplate, data, instruction)
}

// newsTemplate carries the comparative-reporting policy. Format verbs:
// date, raw feed lines, user request.
const newsTemplate = `CONTEXT: Today is %s.
RAW RSS DATA:
%s

USER REQUEST: %s

WRITING INSTRUCTIONS:
1. Process at least 3 different sources.
2. Explicitly cite sources (e.g., 'According to Source A...').
3. Highlight differences in perspectives if any.
4. End with a 'Sources Consulted' section.
5. STRICTLY FORBIDDEN: Do not use internal knowledge. Only use the provided RSS lines.`

// NewsPrompt returns the synthesis prompt for compiled headlines.
func NewsPrompt(now time.Time, raw, instruction string) string {
	return fmt.Sprintf(newsTemplate, now.Format("2006-01-02"), raw, instruction)
}

// genericTemplate is used for capability output with no dedicated prompt.
const genericTemplate = "Tool Output: %s. Answer the user: %s"

// GenericPrompt returns a synthesis prompt for any other capability.
func GenericPrompt(data, instruction string) string {
	return fmt.Sprintf(genericTemplate, data, instruction)
}
