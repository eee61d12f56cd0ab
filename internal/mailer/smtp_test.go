package mailer

import (
	"testing"

	"github.com/dispatchlab/mail-dispatch-system/internal/domain"
)

func strptr(s string) *string { return &s }

func TestBuildMessage(t *testing.T) {
	base := domain.SendContext{
		Subject:   "June newsletter",
		Body:      "<h1>Hello</h1>",
		FromEmail: "news@example.com",
		ToEmail:   "ada@example.com",
		ToName:    "Ada Lovelace",
	}

	tests := []struct {
		name         string
		mutate       func(*domain.SendContext)
		wantFromName string
		wantReplyTo  string
	}{
		{
			"address doubles as display name by default",
			func(sc *domain.SendContext) {},
			"news@example.com",
			"",
		},
		{
			"smtp identity name fills the gap",
			func(sc *domain.SendContext) {
				sc.SMTP = &domain.SMTPConfig{FromName: strptr("Example Weekly")}
			},
			"Example Weekly",
			"",
		},
		{
			"dispatch name wins over smtp identity",
			func(sc *domain.SendContext) {
				sc.SMTP = &domain.SMTPConfig{FromName: strptr("Example Weekly")}
				sc.FromName = strptr("The Editors")
			},
			"The Editors",
			"",
		},
		{
			"reply-to carried through",
			func(sc *domain.SendContext) {
				sc.ReplyTo = strptr("replies@example.com")
			},
			"news@example.com",
			"replies@example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := base
			tt.mutate(&sc)

			msg := BuildMessage(sc)
			if msg.FromName != tt.wantFromName {
				t.Errorf("FromName = %q, want %q", msg.FromName, tt.wantFromName)
			}
			if msg.ReplyTo != tt.wantReplyTo {
				t.Errorf("ReplyTo = %q, want %q", msg.ReplyTo, tt.wantReplyTo)
			}
			if msg.ToEmail != sc.ToEmail || msg.Subject != sc.Subject || msg.HTMLBody != sc.Body {
				t.Errorf("message fields not carried through: %+v", msg)
			}
		})
	}
}
