package pipeline

import (
	"fmt"
	"strings"

	"github.com/makeasinger/panelcast/internal/model"
	"github.com/makeasinger/panelcast/internal/script"
)

// ImagePrompt builds the full illustration prompt for a panel. The
// character description is repeated on every panel so the protagonist stays
// recognisable across the story. Sheets from the script take precedence over
// the request.
func ImagePrompt(b script.Brief, panel model.ScriptPanel, total int, tone string) string {
	style := b.Style
	var palette string
	var elements []string
	if st := panel.Style; st != nil {
		if st.ArtStyle != "" {
			style = st.ArtStyle
		}
		palette = st.ColorPalette
		elements = st.VisualElements
	}

	var s strings.Builder
	fmt.Fprintf(&s, "Manga panel %d of %d for the story %q.\n", panel.PanelNumber, total, b.Title)
	fmt.Fprintf(&s, "Character: %s.\n", character(b, panel.Character))
	fmt.Fprintf(&s, "Art style: %s.\n", style)
	if palette != "" {
		fmt.Fprintf(&s, "Color palette: %s.\n", palette)
	}
	if len(elements) > 0 {
		fmt.Fprintf(&s, "Visual elements: %s.\n", strings.Join(elements, ", "))
	}
	fmt.Fprintf(&s, "Emotional tone: %s.\n", tone)
	if panel.ImagePrompt != "" {
		fmt.Fprintf(&s, "Scene: %s\n", panel.ImagePrompt)
		fmt.Fprintf(&s, "Moment: %s\n", panel.NarrativeText)
	} else {
		fmt.Fprintf(&s, "Scene: %s\n", panel.NarrativeText)
	}
	s.WriteString("Black ink linework with screentone shading, no text or speech bubbles.")
	return s.String()
}

func character(b script.Brief, sheet *model.CharacterSheet) string {
	who := name(b)
	if sheet != nil && sheet.Name != "" {
		who = sheet.Name
	}
	parts := []string{fmt.Sprintf("%s, %d years old, %s, guided by a %s", who, b.Age, genderLabel(b.Gender), b.Archetype)}
	if sheet != nil {
		if sheet.Appearance != "" {
			parts = append(parts, sheet.Appearance)
		}
		if sheet.Clothing != "" {
			parts = append(parts, "wearing "+sheet.Clothing)
		}
	}
	return strings.Join(parts, "; ")
}

// SimplifiedImagePrompt is the short prompt tried after the full one is
// exhausted.
func SimplifiedImagePrompt(b script.Brief, panel model.ScriptPanel) string {
	return fmt.Sprintf("Simple manga illustration, %s. %s", b.Style, panel.NarrativeText)
}

func name(b script.Brief) string {
	if b.Nickname == "" {
		return "the hero"
	}
	return b.Nickname
}

func genderLabel(g model.Gender) string {
	switch g {
	case model.GenderMale:
		return "boy"
	case model.GenderFemale:
		return "girl"
	default:
		return "young person"
	}
}
