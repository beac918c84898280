package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/forumwarden/internal/adapters"
	"github.com/iamwavecut/forumwarden/internal/forum"
	"github.com/iamwavecut/forumwarden/internal/i18n"
)

const (
	TemplateDefault = "default"
	TemplateAI      = "ai"

	contentPreviewLimit = 600
)

// ActionResult is the state of one destructive action as reported to moderators.
type ActionResult struct {
	Attempted bool
	Succeeded bool
	Reason    string
	Days      int
}

type Report struct {
	Lang      string
	ForumName string
	RuleName  string
	Object    forum.Object
	Delete    ActionResult
	Ban       ActionResult
}

type AppealReport struct {
	Lang      string
	ForumName string
	UserName  string
	Reason    string
	Object    *forum.Object
}

// Renderer turns reports into notification segments using named templates.
// A nil model disables the AI template, which then renders as the default one.
type Renderer struct {
	model adapters.LLM
}

func NewRenderer(model adapters.LLM) *Renderer {
	return &Renderer{model: model}
}

func (r *Renderer) Render(ctx context.Context, template string, rep Report) []Segment {
	segments := renderDefault(rep)
	if template != TemplateAI || r.model == nil {
		return segments
	}

	assessment, err := adapters.Assess(ctx, r.model, rep.Object.Text())
	if err != nil {
		log.WithField("object", "Renderer").WithError(err).Warn("ai assessment unavailable, using default template")
		return segments
	}
	return insertText(segments, fmt.Sprintf("%s: %s", i18n.Get("AI assessment", rep.Lang), assessment))
}

func renderDefault(rep Report) []Segment {
	text := tool.ExecTemplate(`{{ .rule }}
{{ .forum_label }}: {{ .forum }}
{{ .author_label }}: {{ .author }}
{{ .summary }}
{{ .content_label }}: {{ .content }}

{{ .delete_label }}: {{ .delete }}
{{ .ban_label }}: {{ .ban -}}`, map[string]any{
		"rule":          fmt.Sprintf(i18n.Get("Rule matched: %s", rep.Lang), rep.RuleName),
		"forum_label":   i18n.Get("Forum", rep.Lang),
		"forum":         rep.ForumName,
		"author_label":  i18n.Get("Author", rep.Lang),
		"author":        rep.Object.Author().UserName,
		"summary":       rep.Object.Summary(),
		"content_label": i18n.Get("Content", rep.Lang),
		"content":       truncate(rep.Object.Text(), contentPreviewLimit),
		"delete_label":  i18n.Get("delete", rep.Lang),
		"delete":        DeleteStatus(rep.Delete, rep.Lang),
		"ban_label":     i18n.Get("ban", rep.Lang),
		"ban":           BanStatus(rep.Ban, rep.Lang),
	})

	segments := []Segment{Text(text)}
	if images := rep.Object.Images(); len(images) > 0 {
		segments = append(segments, Image(images[0]))
	}
	return segments
}

// DeleteStatus renders "success", "failed (<reason>)" or "skipped".
func DeleteStatus(res ActionResult, lang string) string {
	switch {
	case !res.Attempted:
		return i18n.Get("skipped", lang)
	case res.Succeeded:
		return i18n.Get("success", lang)
	default:
		return fmt.Sprintf("%s (%s)", i18n.Get("failed", lang), res.Reason)
	}
}

// BanStatus renders "success (<n> days)", "failed (<reason>)" or "skipped".
func BanStatus(res ActionResult, lang string) string {
	if res.Attempted && res.Succeeded {
		return fmt.Sprintf("%s (%d %s)", i18n.Get("success", lang), res.Days, i18n.Get("days", lang))
	}
	return DeleteStatus(res, lang)
}

func (r *Renderer) RenderAppeal(rep AppealReport) []Segment {
	lines := []string{
		fmt.Sprintf(i18n.Get("New appeal from %s", rep.Lang), rep.UserName),
		fmt.Sprintf("%s: %s", i18n.Get("Forum", rep.Lang), rep.ForumName),
		fmt.Sprintf("%s: %s", i18n.Get("Reason", rep.Lang), strings.TrimSpace(rep.Reason)),
	}
	if rep.Object != nil {
		lines = append(lines,
			rep.Object.Summary(),
			fmt.Sprintf("%s: %s", i18n.Get("Content", rep.Lang), truncate(rep.Object.Text(), contentPreviewLimit)),
		)
	}
	return []Segment{Text(strings.Join(lines, "\n"))}
}

func insertText(segments []Segment, line string) []Segment {
	for i, s := range segments {
		if s.Kind == KindText {
			segments[i].Text = s.Text + "\n" + line
			return segments
		}
	}
	return append([]Segment{Text(line)}, segments...)
}
