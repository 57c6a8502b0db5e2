package template

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/webitel/journal-sync/internal/domain/model"
)

// Module provides a Registry pre-loaded with the built-in notification
// types. Deployments that add notification types register further
// templates against the same Registry at startup.
var Module = fx.Module(
	"template",
	fx.Provide(func() (Renderer, error) {
		r := NewRegistry()
		if err := registerBuiltins(r); err != nil {
			return nil, err
		}
		return r, nil
	}),
)

func registerBuiltins(r *Registry) error {
	for _, reg := range builtinTemplates {
		if err := r.Register(reg.key, reg.src); err != nil {
			return fmt.Errorf("template: register builtin %+v: %w", reg.key, err)
		}
	}
	return nil
}

var builtinTemplates = []struct {
	key Key
	src Source
}{
	{
		key: Key{Type: "security-alert", Channel: model.ChannelInApp},
		src: Source{Title: "Security alert", Body: "{{.Message}}"},
	},
	{
		key: Key{Type: "security-alert", Channel: model.ChannelEmail},
		src: Source{
			Subject: "Security alert on your account",
			HTML:    "<p><strong>{{.Title}}</strong></p><p>{{.Message}}</p>",
			Text:    "{{.Title}}\n\n{{.Message}}",
		},
	},
	{
		key: Key{Type: "security-alert", Channel: model.ChannelPush},
		src: Source{Title: "Security alert", Body: "{{.Message}}"},
	},
	{
		key: Key{Type: "password-expiry", Channel: model.ChannelEmail},
		src: Source{
			Subject: "Your password is expiring soon",
			HTML:    "<p>{{.Message}}</p>",
			Text:    "{{.Message}}",
		},
	},
	{
		key: Key{Type: "backup-failed", Channel: model.ChannelEmail},
		src: Source{
			Subject: "Backup failed",
			HTML:    "<p>{{.Message}}</p>",
			Text:    "{{.Message}}",
		},
	},
	{
		key: Key{Type: "entry-reminder", Channel: model.ChannelInApp},
		src: Source{Title: "Reminder", Body: "{{.Message}}"},
	},
	{
		key: Key{Type: "entry-reminder", Channel: model.ChannelPush},
		src: Source{Title: "{{.Title}}", Body: "{{.Message}}"},
	},
	{
		key: Key{Type: "mention", Channel: model.ChannelInApp},
		src: Source{Title: "{{.Title}}", Body: "{{.Message}}"},
	},
	{
		key: Key{Type: "mention", Channel: model.ChannelPush},
		src: Source{Title: "{{.Title}}", Body: "{{.Message}}"},
	},
	{
		key: Key{Type: "daily", Channel: model.ChannelInApp},
		src: Source{Title: "Daily digest", Body: "{{.Message}}"},
	},
	{
		key: Key{Type: "daily", Channel: model.ChannelEmail},
		src: Source{
			Subject: "Your daily digest",
			HTML:    "<p>{{.Message}}</p>",
			Text:    "{{.Message}}",
		},
	},
	{
		key: Key{Type: "daily", Channel: model.ChannelText},
		src: Source{Text: "{{.Message}}"},
	},
}
