package composer

import (
	"fmt"
	"regexp"
	"strings"

	"photostudio/internal/domain"
)

// DefaultStudioPolicy is rendered when neither the studio settings nor the
// policy file provide one.
const DefaultStudioPolicy = "Professional studio photography. Keep every person natural and true to their reference photos. " +
	"Produce one coherent photograph, never a collage, grid or split frame. No text, logos or watermarks."

var blankRuns = regexp.MustCompile(`\n{3,}`)

// normalize trims trailing whitespace per line, collapses runs of blank lines
// to one and trims the result.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}

type field struct {
	label string
	value string
}

// section renders a header followed by the non-empty fields. It returns ""
// when every field is empty so no bare header is emitted.
func section(header string, fields ...field) string {
	var b strings.Builder
	for _, f := range fields {
		v := normalize(f.value)
		if v == "" {
			continue
		}
		if f.label != "" {
			fmt.Fprintf(&b, "%s: %s\n", f.label, v)
		} else {
			b.WriteString(v + "\n")
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return header + "\n" + b.String()
}

// sources carries everything the blocks render from. Nil members render
// nothing.
type sources struct {
	policy          string
	project         *domain.Project
	customers       []domain.Customer
	models          []domain.CastModel
	scene           *domain.SceneAsset
	planScene       *domain.PlanScene
	draft           string
	editInstruction string
}

func renderBlock(kind domain.BlockKind, src *sources) string {
	var text string
	switch kind {
	case domain.BlockStudioPolicy:
		text = section("[Studio policy]", field{value: src.policy})
	case domain.BlockProject:
		if src.project != nil {
			text = section("[Project]",
				field{"Title", src.project.Title},
				field{"Brief", src.project.Prompt},
			)
		}
	case domain.BlockCustomers:
		text = renderCustomers(src.customers)
	case domain.BlockModelIdentity:
		text = renderModels(src.models)
	case domain.BlockSceneAsset:
		if src.scene != nil {
			text = section("[Scene]",
				field{"Name", src.scene.Name},
				field{"Description", src.scene.Description},
				field{"Style", src.scene.Style},
				field{"Lighting", src.scene.Lighting},
				field{"Props", src.scene.Props},
			)
		}
	case domain.BlockPlanScene:
		if src.planScene != nil && !src.planScene.Empty() {
			text = section(fmt.Sprintf("[Plan scene %d]", src.planScene.Index),
				field{"Title", src.planScene.Title},
				field{"Description", src.planScene.Description},
				field{"Shot", src.planScene.Shot},
				field{"Mood", src.planScene.Mood},
				field{"Wardrobe", src.planScene.Wardrobe},
			)
		}
	case domain.BlockDraft:
		text = section("[Request]", field{value: src.draft})
	case domain.BlockEditInstruction:
		text = section("[Edit instruction]", field{value: src.editInstruction})
	}
	return normalize(text)
}

func renderCustomers(customers []domain.Customer) string {
	var lines []string
	for _, c := range customers {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		var attrs []string
		if role := strings.TrimSpace(c.Role); role != "" {
			attrs = append(attrs, role)
		}
		if age := strings.TrimSpace(c.Age); age != "" {
			attrs = append(attrs, "age "+age)
		}
		line := "- " + name
		if len(attrs) > 0 {
			line += " (" + strings.Join(attrs, ", ") + ")"
		}
		if notes := strings.TrimSpace(c.Notes); notes != "" {
			line += ": " + notes
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return "[Customers]\n" + strings.Join(lines, "\n")
}

// renderModels scopes model descriptions to identity so reference photos do
// not leak outfits into the result.
func renderModels(models []domain.CastModel) string {
	var lines []string
	for _, m := range models {
		desc := strings.TrimSpace(m.IdentityDescription)
		name := strings.TrimSpace(m.Name)
		if desc == "" && name == "" {
			continue
		}
		line := "- " + name
		if role := strings.TrimSpace(m.Role); role != "" {
			line += " (" + role + ")"
		}
		if desc != "" {
			line += ": " + desc
		}
		lines = append(lines, strings.TrimSpace(line))
	}
	if len(lines) == 0 {
		return ""
	}
	return "[Model identity (identity only, not wardrobe)]\n" + strings.Join(lines, "\n") +
		"\nUse the reference photos only for face and identity. Do not copy clothing or accessories from them."
}
