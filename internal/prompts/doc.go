// Package prompts contains all LLM prompt templates used by Majordomo.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation and can be validated by tests.
// Agent instructions can be overridden in config.yaml; everything else
// here is fixed.
//
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the fully
// interpolated prompt string.
package prompts
