package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/eleven-am/gantry/internal/domain"
)

// Template renders one outcome's message. Each outcome has its own template,
// so no template branches on the outcome.
type Template struct {
	Subject *template.Template
	Body    *template.Template
}

// RenderTable maps each run outcome to its template.
type RenderTable map[domain.RunOutcome]Template

func MustTemplate(subject, body string) Template {
	return Template{
		Subject: template.Must(template.New("subject").Parse(subject)),
		Body:    template.Must(template.New("body").Funcs(funcs).Parse(body)),
	}
}

var funcs = template.FuncMap{
	"duration": func(d time.Duration) string { return d.Round(time.Second).String() },
}

func DefaultRenderTable() RenderTable {
	return RenderTable{
		domain.RunOutcomeSuccess: MustTemplate(
			"[{{.Pipeline}}] build {{.BuildID}} succeeded",
			"Build {{.BuildID}} of {{.Pipeline}} passed in {{duration .Duration}}.\nCommit: {{.CommitRef}}\n",
		),
		domain.RunOutcomeFailure: MustTemplate(
			"[{{.Pipeline}}] build {{.BuildID}} FAILED",
			"Build {{.BuildID}} of {{.Pipeline}} failed after {{duration .Duration}}.\nCommit: {{.CommitRef}}\nFailing stage: {{.FailingStageID}}\n{{.Detail}}\n",
		),
		domain.RunOutcomeUnstable: MustTemplate(
			"[{{.Pipeline}}] build {{.BuildID}} is unstable",
			"Build {{.BuildID}} of {{.Pipeline}} finished unstable in {{duration .Duration}}.\nCommit: {{.CommitRef}}\nFirst unstable result at: {{.FailingStageID}}\n",
		),
		domain.RunOutcomeAborted: MustTemplate(
			"[{{.Pipeline}}] build {{.BuildID}} aborted",
			"Build {{.BuildID}} of {{.Pipeline}} was aborted after {{duration .Duration}}.\nCommit: {{.CommitRef}}\nStopped at: {{.FailingStageID}}\n{{.Detail}}\n",
		),
	}
}

func (t RenderTable) Render(outcome domain.RunOutcome, summary domain.NotificationSummary) (domain.RenderedMessage, error) {
	tmpl, ok := t[outcome]
	if !ok {
		return domain.RenderedMessage{}, fmt.Errorf("no template for outcome %q: %w", outcome, domain.ErrNotFound)
	}

	var subject, body bytes.Buffer
	if err := tmpl.Subject.Execute(&subject, summary); err != nil {
		return domain.RenderedMessage{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tmpl.Body.Execute(&body, summary); err != nil {
		return domain.RenderedMessage{}, fmt.Errorf("render body: %w", err)
	}
	return domain.RenderedMessage{Subject: subject.String(), Body: body.String()}, nil
}
