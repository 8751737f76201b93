package category

import (
	"bytes"
	"fmt"
	"text/template"
)

const responseContract = `
Respond with a single JSON object and nothing else:
{"score": <integer 0-100>, "labels": [<short strings>], "categoryMatch": <true|false>, "feedback": "<one or two sentences for the user>"}
The score is your confidence that the media genuinely shows the claimed action.`

var promptTemplates = map[Category]string{
	TreePlanting: `You are verifying evidence of a tree planting action{{with .Subcategory}} ({{.}}){{end}}.
Look for freshly planted saplings or trees, disturbed soil, planting tools and people taking part.
Stock photos, potted houseplants and mature trees with no sign of planting score low.`,
	Recycling: `You are verifying evidence of a recycling action{{with .Subcategory}} ({{.}}){{end}}.
Look for sorted recyclable material being placed into a recycling bin or delivered to a collection point.
Mixed household waste or a lone bin with no activity scores low.`,
	Cleanup: `You are verifying evidence of a cleanup action{{with .Subcategory}} ({{.}}){{end}}.
Look for litter being collected, filled bags, gloves or grabbers, and a visibly cleaner area.
Pictures of litter alone, with nobody cleaning, score low.`,
	Transportation: `You are verifying evidence of sustainable transportation{{with .Subcategory}} ({{.}}){{end}}.
Look for bicycles, public transit interiors or stops, walking routes, shared rides or electric charging.
Private fuel cars with a single occupant score low.`,
	EnergySaving: `You are verifying evidence of an energy saving action{{with .Subcategory}} ({{.}}){{end}}.
Look for solar panels, efficient lighting, insulation work, smart meters or appliances switched off.
Generic interiors with no visible change score low.`,
	WaterConservation: `You are verifying evidence of a water conservation action{{with .Subcategory}} ({{.}}){{end}}.
Look for rain barrels, repaired leaks, low-flow fixtures or greywater reuse setups.
Running taps or unrelated water scenes score low.`,
	Composting: `You are verifying evidence of a composting action{{with .Subcategory}} ({{.}}){{end}}.
Look for compost bins or heaps, food scraps being added, worms or finished compost.
Regular trash bags score low.`,
}

// PromptData is the input rendered into a category prompt.
type PromptData struct {
	Category    Category
	Subcategory string
	Note        string
}

// Prompts renders the per-category oracle instructions.
type Prompts struct {
	templates map[Category]*template.Template
}

func NewPrompts() (*Prompts, error) {
	p := &Prompts{templates: make(map[Category]*template.Template, len(promptTemplates))}
	for c, text := range promptTemplates {
		tmpl, err := template.New(string(c)).Parse(text + `{{with .Note}}
The user added this note: "{{.}}"{{end}}` + responseContract)
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", c, err)
		}
		p.templates[c] = tmpl
	}
	return p, nil
}

func (p *Prompts) Render(data PromptData) (string, error) {
	tmpl, ok := p.templates[data.Category]
	if !ok {
		return "", fmt.Errorf("no prompt template for category %q", data.Category)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
