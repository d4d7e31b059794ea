package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/logger"
)

// ShoutrrrProvider fans text notifications out to every configured service
// URL. Images are not sent.
type ShoutrrrProvider struct {
	urls    []string
	timeout time.Duration
	sender  *router.ServiceRouter
}

// NewShoutrrrProvider builds a sender for urls. Invalid URLs are reported
// with their credentials scrubbed.
func NewShoutrrrProvider(urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	sp := &ShoutrrrProvider{
		urls:    slices.Clone(urls),
		timeout: timeout,
	}
	if len(sp.urls) == 0 {
		return nil, errors.Newf("at least one shoutrrr URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(sp.urls...)
	if err != nil {
		return nil, errors.Newf("invalid shoutrrr URL: %s", logger.RedactSensitiveData(err.Error())).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if sp.timeout > 0 {
		sender.Timeout = sp.timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	sp.sender = sender
	return sp, nil
}

// Name implements Provider.
func (s *ShoutrrrProvider) Name() string { return "shoutrrr" }

// Supports implements Provider.
func (s *ShoutrrrProvider) Supports(Channel) bool { return true }

// Send implements Provider.
func (s *ShoutrrrProvider) Send(ctx context.Context, msg *Message) error {
	// the router applies its own timeout
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle(plainTitle(msg))
	for _, err := range s.sender.Send(plainBody(msg), &params) {
		if err != nil {
			return errors.Newf("shoutrrr delivery failed: %s", logger.RedactSensitiveData(err.Error())).
				Component("notification").
				Category(errors.CategoryNotification).
				Build()
		}
	}
	return nil
}

func plainTitle(msg *Message) string {
	if msg.Channel == ChannelStatus {
		return StatusReportTitle
	}
	return alertTitlePrefix + msg.Title
}

func plainBody(msg *Message) string {
	if msg.Channel == ChannelStatus || msg.Level == "" {
		return msg.Description
	}
	return fmt.Sprintf("%s\n\n%s: %s", msg.Description, riskLevelFieldName, strings.ToUpper(string(msg.Level)))
}

var _ Provider = (*ShoutrrrProvider)(nil)
