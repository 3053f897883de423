package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haowenli/ai-call-agent/internal/domain/entity"
)

const planSystemPrompt = `You are a call-planning assistant. A user describes something they want done over the phone; you turn it into a structured plan for an AI voice agent that will place the call. Always respond with valid JSON.`

const scriptSystemPrompt = `You are an AI voice agent about to place a phone call on a user's behalf. Write the opening script you will follow: polite, natural, concise spoken language. Return only the script text, no markdown and no stage directions.`

// buildPlanPrompt builds the planning prompt for a raw user instruction
func buildPlanPrompt(instruction string) string {
	return fmt.Sprintf(`The user wants the following done over the phone:

"%s"

Produce a plan for the call. Respond with ONLY a valid JSON object with this exact structure:
{
  "goal": "one-sentence goal of the call",
  "steps": ["ordered steps the agent should take on the call"],
  "questions_to_ask": ["questions the agent should ask the business"],
  "missing_info": ["information still needed from the user before calling, e.g. 'phone number of the business'"],
  "requires_clarification": boolean,
  "hard_constraints": {"constraint": "value"},
  "soft_preferences": {"preference": "value"}
}

Rules:
- If the destination phone number is not in the instruction, list it in missing_info.
- Set requires_clarification to true only when the instruction is too ambiguous to act on at all.
- hard_constraints are non-negotiable (budget ceilings, required dates); soft_preferences are nice-to-haves.`,
		instruction)
}

// buildScriptPrompt builds the script-generation prompt from a task and its
// plan
func buildScriptPrompt(task *entity.CallTask) string {
	var b strings.Builder

	fmt.Fprintf(&b, "The user's request: %q\n", task.RawInstruction)

	if task.BusinessName != "" {
		fmt.Fprintf(&b, "You are calling: %s\n", task.BusinessName)
	}
	if task.Tone != "" {
		fmt.Fprintf(&b, "Tone to use: %s\n", task.Tone)
	}
	if task.MaxPrice != nil {
		fmt.Fprintf(&b, "Price ceiling: do not agree to anything above %.2f\n", *task.MaxPrice)
	}

	if plan := task.Plan; plan != nil {
		fmt.Fprintf(&b, "\nCall goal: %s\n", plan.Goal)
		if len(plan.Steps) > 0 {
			b.WriteString("Steps:\n")
			for i, step := range plan.Steps {
				fmt.Fprintf(&b, "%d. %s\n", i+1, step)
			}
		}
		if len(plan.QuestionsToAsk) > 0 {
			b.WriteString("Questions to ask:\n")
			for _, q := range plan.QuestionsToAsk {
				fmt.Fprintf(&b, "- %s\n", q)
			}
		}
		if len(plan.HardConstraints) > 0 {
			constraints, _ := json.Marshal(plan.HardConstraints)
			fmt.Fprintf(&b, "Hard constraints: %s\n", constraints)
		}
		if len(plan.SoftPreferences) > 0 {
			prefs, _ := json.Marshal(plan.SoftPreferences)
			fmt.Fprintf(&b, "Preferences: %s\n", prefs)
		}
	}

	b.WriteString("\nWrite the opening script for this call.")
	return b.String()
}
