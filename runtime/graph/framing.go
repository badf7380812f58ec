package graph

import (
	"fmt"
	"strings"
)

type (
	// Frame carries the optional system-prompt framing inputs extracted
	// from an inbound payload: an instruction preamble, focus items, a
	// suggested context order and recently active skills.
	Frame struct {
		// System is an instruction preamble appended after the base prompt.
		System string
		// Focus lists the focus items. When FocusBlock is false the single
		// entry is rendered verbatim; otherwise the entries render as a
		// bulleted "Focus:" block.
		Focus []string
		// FocusBlock selects the bulleted rendering for Focus.
		FocusBlock bool
		// OrderedSegments suggests the context reading order.
		OrderedSegments []string
		// Skills lists active skill descriptors; only the last six render.
		Skills []Skill
	}

	// Skill describes one active skill attached to the inbound state.
	Skill struct {
		Name        string
		Description string
		Tags        []string
	}
)

// maxRenderedSkills bounds the skill section of the composed system prompt.
const maxRenderedSkills = 6

// ParseFrame extracts the framing inputs from a decoded envelope payload.
// Missing or malformed values yield the zero frame; framing never fails a
// dispatch.
func ParseFrame(payload map[string]any) Frame {
	var f Frame
	if outline, ok := payload["outline"].(map[string]any); ok {
		if s, ok := outline["system"].(string); ok {
			f.System = s
		}
		switch focus := outline["focus"].(type) {
		case string:
			if focus != "" {
				f.Focus = []string{focus}
			}
		case []any:
			f.FocusBlock = true
			for _, item := range focus {
				if s, ok := item.(string); ok && s != "" {
					f.Focus = append(f.Focus, s)
				}
			}
		}
		if segments, ok := outline["ordered_segments"].([]any); ok {
			for _, item := range segments {
				if s, ok := item.(string); ok && s != "" {
					f.OrderedSegments = append(f.OrderedSegments, s)
				}
			}
		}
	}
	if skills, ok := payload["active_skills_metadata"].([]any); ok {
		for _, item := range skills {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			skill := Skill{}
			skill.Name, _ = m["name"].(string)
			skill.Description, _ = m["description"].(string)
			if tags, ok := m["tags"].([]any); ok {
				for _, tag := range tags {
					if s, ok := tag.(string); ok && s != "" {
						skill.Tags = append(skill.Tags, s)
					}
				}
			}
			if skill.Name != "" {
				f.Skills = append(f.Skills, skill)
			}
		}
	}
	return f
}

// ComposeSystem renders the system turn content for one driver invocation:
// the profile's base prompt followed by the frame sections, joined with
// blank lines.
func ComposeSystem(base string, f Frame) string {
	sections := make([]string, 0, 5)
	if base != "" {
		sections = append(sections, base)
	}
	if f.System != "" {
		sections = append(sections, f.System)
	}
	if len(f.Focus) > 0 {
		if f.FocusBlock {
			var b strings.Builder
			b.WriteString("Focus:")
			for _, item := range f.Focus {
				b.WriteString("\n- ")
				b.WriteString(item)
			}
			sections = append(sections, b.String())
		} else {
			sections = append(sections, f.Focus[0])
		}
	}
	if len(f.OrderedSegments) > 0 {
		sections = append(sections, "Suggested context order: "+strings.Join(f.OrderedSegments, ", "))
	}
	if len(f.Skills) > 0 {
		skills := f.Skills
		if len(skills) > maxRenderedSkills {
			skills = skills[len(skills)-maxRenderedSkills:]
		}
		lines := make([]string, 0, len(skills))
		for _, s := range skills {
			if len(s.Tags) > 0 {
				lines = append(lines, fmt.Sprintf("- %s (tags: %s): %s", s.Name, strings.Join(s.Tags, ", "), s.Description))
			} else {
				lines = append(lines, fmt.Sprintf("- %s: %s", s.Name, s.Description))
			}
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}
	return strings.Join(sections, "\n\n")
}
