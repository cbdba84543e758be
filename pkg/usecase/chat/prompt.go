package chat

import (
	"bytes"
	_ "embed"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
)

//go:embed prompt/rephrase.md
var rephrasePrompt string

//go:embed prompt/rephrase_input.md
var rephraseInputRaw string

//go:embed prompt/answer.md
var answerPromptRaw string

//go:embed prompt/answer_input.md
var answerInputRaw string

var (
	rephraseInputTmpl = template.Must(template.New("rephrase_input").Parse(rephraseInputRaw))
	answerPromptTmpl  = template.Must(template.New("answer").Parse(answerPromptRaw))
	answerInputTmpl   = template.Must(template.New("answer_input").Parse(answerInputRaw))
)

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to execute prompt template", goerr.V("template", tmpl.Name()))
	}
	return buf.String(), nil
}
