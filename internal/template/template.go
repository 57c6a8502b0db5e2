// Package template implements the (type, channel)-keyed notification
// renderer (spec component C5). Rendering is deterministic and
// side-effect-free: given the same notification data, the same bytes
// come out every time, using the standard library's text/template and
// html/template engines (the one deliberately stdlib-only ambient
// concern in this module — see DESIGN.md).
package template

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"sync"
	texttemplate "text/template"
	"unicode/utf8"

	"github.com/webitel/journal-sync/internal/domain/model"
)

// textBodyLimit is the hard length cap the spec assigns the text
// channel's rendered payload.
const textBodyLimit = 160

// Key identifies one registered template by notification type and
// delivery channel.
type Key struct {
	Type    string
	Channel model.Channel
}

// Data is what a template body is executed against.
type Data struct {
	Title    string
	Message  string
	Priority model.Priority
	Actions  []model.Action
	Data     map[string]any
}

// Payload is the channel-appropriate rendered output. Which fields are
// populated depends on the channel the template was registered for.
type Payload struct {
	Subject string         // mail
	HTML    string         // mail
	Text    string         // mail plain-text alternative, or the text channel's body
	Title   string         // push, in-app
	Body    string         // push, in-app
	Data    map[string]any // push custom data, in-app data passthrough
}

// Source is the raw template text supplied at registration time. Only
// the fields relevant to the target channel need be set; see Register.
type Source struct {
	Subject string
	HTML    string
	Text    string
	Title   string
	Body    string
}

// ErrNoTemplate is returned by Render when no template is registered for
// the requested (type, channel) pair — a recoverable error per spec
// §4.C5: the dispatcher skips the channel and logs "no-template".
var ErrNoTemplate = fmt.Errorf("template: no template registered")

type compiled struct {
	subject *texttemplate.Template
	html    *htmltemplate.Template
	text    *texttemplate.Template
	title   *texttemplate.Template
	body    *texttemplate.Template
}

// Renderer is the C5 rendering contract.
type Renderer interface {
	Render(key Key, data Data) (Payload, error)
}

// Registry is the in-process Renderer implementation. Templates are
// registered once at startup (typically from Module's provider) and
// read concurrently thereafter.
type Registry struct {
	mu    sync.RWMutex
	specs map[Key]*compiled
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[Key]*compiled)}
}

// Register parses src's non-empty fields and stores them under key,
// replacing any prior registration. It returns a parse error if any
// field's template text is malformed.
func (r *Registry) Register(key Key, src Source) error {
	c := &compiled{}
	var err error

	if src.Subject != "" {
		if c.subject, err = texttemplate.New("subject").Parse(src.Subject); err != nil {
			return fmt.Errorf("template: parse subject for %+v: %w", key, err)
		}
	}
	if src.HTML != "" {
		if c.html, err = htmltemplate.New("html").Parse(src.HTML); err != nil {
			return fmt.Errorf("template: parse html for %+v: %w", key, err)
		}
	}
	if src.Text != "" {
		if c.text, err = texttemplate.New("text").Parse(src.Text); err != nil {
			return fmt.Errorf("template: parse text for %+v: %w", key, err)
		}
	}
	if src.Title != "" {
		if c.title, err = texttemplate.New("title").Parse(src.Title); err != nil {
			return fmt.Errorf("template: parse title for %+v: %w", key, err)
		}
	}
	if src.Body != "" {
		if c.body, err = texttemplate.New("body").Parse(src.Body); err != nil {
			return fmt.Errorf("template: parse body for %+v: %w", key, err)
		}
	}

	r.mu.Lock()
	r.specs[key] = c
	r.mu.Unlock()
	return nil
}

// Render executes the template registered for key against data.
func (r *Registry) Render(key Key, data Data) (Payload, error) {
	r.mu.RLock()
	c, ok := r.specs[key]
	r.mu.RUnlock()
	if !ok {
		return Payload{}, fmt.Errorf("%w: type=%s channel=%s", ErrNoTemplate, key.Type, key.Channel)
	}

	var payload Payload
	payload.Data = data.Data

	var err error
	if payload.Subject, err = execText(c.subject, data); err != nil {
		return Payload{}, err
	}
	if payload.HTML, err = execHTML(c.html, data); err != nil {
		return Payload{}, err
	}
	if payload.Text, err = execText(c.text, data); err != nil {
		return Payload{}, err
	}
	if payload.Title, err = execText(c.title, data); err != nil {
		return Payload{}, err
	}
	if payload.Body, err = execText(c.body, data); err != nil {
		return Payload{}, err
	}

	if key.Channel == model.ChannelText {
		payload.Text = truncate(payload.Text, textBodyLimit)
	}

	return payload, nil
}

func execText(t *texttemplate.Template, data Data) (string, error) {
	if t == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template: execute %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func execHTML(t *htmltemplate.Template, data Data) (string, error) {
	if t == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template: execute %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// truncate cuts s to at most n runes, preferring a whole-rune boundary.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
