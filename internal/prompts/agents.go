package prompts

// Built-in agent instructions, used as the system prompt of each bound
// agent.
const (
	WeatherAgentInstructions = "Expert in weather forecasting and local conditions."

	HomeAutomationAgentInstructions = "Expert in smart home control."

	PersonalAgentInstructions = "Expert in news aggregation. When asked for news, always use 'compile_news_reports' " +
		"selecting AT LEAST 3 different sources for comparison. Provide a structured synthesis."
)

// toolUseSuffix is appended to every agent's instructions so small
// local models call a tool instead of guessing.
const toolUseSuffix = "\n\nWhen one of your tools can answer the request, call it rather than answering from memory."

// AgentSystemPrompt returns the system prompt for an agent.
func AgentSystemPrompt(instructions string) string {
	return instructions + toolUseSuffix
}

// CouldNotComplete is returned when no capability call resolved and
// the agent produced no text of its own.
const CouldNotComplete = "I could not complete that request."

// TasksCompleted is returned when a request's capability calls all
// finished without producing text to show.
const TasksCompleted = "Tasks completed successfully."
