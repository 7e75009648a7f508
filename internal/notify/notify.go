package notify

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
)

// RefundNotice describes a refund that has already been applied to an
// account's balance.
type RefundNotice struct {
	Email   string
	Locale  string
	TaskID  string
	Credits int
	Reason  string
}

type Sender interface {
	SendRefundNotice(ctx context.Context, notice RefundNotice) error
}

var supportedTags = []language.Tag{
	language.English, // first entry is the fallback
	language.Japanese,
}

var supported = language.NewMatcher(supportedTags)

type template struct {
	subject string
	body    string
}

var templates = map[language.Tag]template{
	language.English: {
		subject: "Credits refunded for task %s",
		body:    "Your video generation task %s did not complete (%s). %d credits have been returned to your balance.",
	},
	language.Japanese: {
		subject: "タスク %s のクレジット返金",
		body:    "動画生成タスク %s は完了しませんでした（%s）。%d クレジットを残高に返金しました。",
	},
}

// resolveTemplate matches the caller's locale against the supported set,
// falling back to English for anything unrecognized.
func resolveTemplate(locale string) template {
	_, index := language.MatchStrings(supported, locale)
	return templates[supportedTags[index]]
}

// NoopSender satisfies Sender without delivering anything. Used when no mail
// provider is configured.
type NoopSender struct {
	Logger zerolog.Logger
}

func (s *NoopSender) SendRefundNotice(ctx context.Context, notice RefundNotice) error {
	s.Logger.Debug().
		Str("task_id", notice.TaskID).
		Str("email", notice.Email).
		Int("credits", notice.Credits).
		Msg("refund notice suppressed: mail sender not configured")
	return nil
}

var _ Sender = (*NoopSender)(nil)
