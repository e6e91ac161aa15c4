package optimizer

import (
	"fmt"
	"strings"
)

const instruction = `You rewrite studio photography prompts for an image model.
Rules:
- Use only people, ages, scenes and props present in the input. Do not invent any.
- The number of people and each person's age never change.
- Describe a single unified frame. Never a collage, grid or split screen.
- Keep every studio policy constraint.
- Reference images pin identity and scene. Do not describe clothing seen only in identity references.
Reply with JSON only, no prose:
{"renderPrompt": string, "assumptions": string[], "conflicts": string[], "negativePrompt": string[]}`

// BindingMarker opens the reference-binding declaration.
const BindingMarker = "[Reference binding]"

func bindingDeclaration(plan ReferencePlan) string {
	return fmt.Sprintf(`%s
Reference images attached: %d identity, %d scene.
Priority order: 1) identity count and identity consistency of every person (hard constraint); 2) consistency with the scene references; 3) textual details of this prompt.
Produce one photograph in a single frame.`, BindingMarker, len(plan.IdentityImages), len(plan.SceneImages))
}

// AppendBinding appends the reference-binding declaration when references
// exist and the prompt does not already carry one.
func AppendBinding(prompt string, plan ReferencePlan) string {
	if plan.empty() || strings.Contains(prompt, BindingMarker) {
		return prompt
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return bindingDeclaration(plan)
	}
	return prompt + "\n\n" + bindingDeclaration(plan)
}
