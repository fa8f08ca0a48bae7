package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

var (
	activationTemplate = template.Must(template.New("activation").Parse(
		`Hello, {{.Recipient.DisplayName}}!

You have registered on the bulletin board.
Please follow the link below to activate your account:

{{.Activation.Link}}

If you did not register, ignore this message.
`))

	newCommentTemplate = template.Must(template.New("new_comment").Parse(
		`Hello, {{.Recipient.DisplayName}}!

A new comment was left on your ad "{{.Comment.AdTitle}}".

{{.Comment.Author}} wrote:
{{.Comment.Content}}

{{if .Comment.Link}}Open the ad: {{.Comment.Link}}
{{end}}`))
)

// Render 返回邮件主题与正文。
func Render(msg Message) (subject, body string, err error) {
	if err := msg.Validate(); err != nil {
		return "", "", err
	}

	var tmpl *template.Template
	switch msg.Kind {
	case KindActivation:
		subject = fmt.Sprintf("Activate your account, %s", msg.Recipient.Username)
		tmpl = activationTemplate
	case KindNewComment:
		subject = fmt.Sprintf("New comment on \"%s\"", msg.Comment.AdTitle)
		tmpl = newCommentTemplate
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, msg); err != nil {
		return "", "", fmt.Errorf("render %s mail: %w", msg.Kind, err)
	}
	return subject, strings.TrimRight(buf.String(), "\n") + "\n", nil
}
