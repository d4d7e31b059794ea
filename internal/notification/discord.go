package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/httpclient"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/status"
)

// Embed colors.
const (
	ColorSafe    = 0x2ecc71
	ColorWarning = 0xf39c12
	ColorDanger  = 0xe74c3c
	ColorStatus  = 0x3498db
	ColorDefault = 0x95a5a6
)

// StatusReportTitle is the embed title of periodic reports.
const StatusReportTitle = "📊 Baby Status Report"

const (
	alertTitlePrefix    = "⚠️ "
	riskLevelFieldName  = "Risk Level"
	alertImageName      = "capture.jpg"
	statusImageName     = "status.jpg"
	maxEmbedDescription = 4096
	maxErrorBody        = 512
)

// RiskColor returns the embed color for level.
func RiskColor(level status.RiskLevel) int {
	switch level {
	case status.RiskSafe:
		return ColorSafe
	case status.RiskWarning:
		return ColorWarning
	case status.RiskDanger:
		return ColorDanger
	default:
		return ColorDefault
	}
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Fields      []discordField `json:"fields,omitempty"`
	Image       *discordImage  `json:"image,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordImage struct {
	URL string `json:"url"`
}

// DiscordProvider posts embeds to one webhook per channel.
type DiscordProvider struct {
	webhooks map[Channel]string
	client   *httpclient.Client
	log      logger.Logger
}

// NewDiscordProvider returns a provider for the given webhooks. An empty URL
// disables that channel.
func NewDiscordProvider(client *httpclient.Client, warningWebhook, statusWebhook string) *DiscordProvider {
	hooks := make(map[Channel]string, 2)
	if s := strings.TrimSpace(warningWebhook); s != "" {
		hooks[ChannelWarning] = s
	}
	if s := strings.TrimSpace(statusWebhook); s != "" {
		hooks[ChannelStatus] = s
	}
	return &DiscordProvider{
		webhooks: hooks,
		client:   client,
		log:      GetLogger().Module("discord"),
	}
}

// Name implements Provider.
func (d *DiscordProvider) Name() string { return "discord" }

// Supports implements Provider.
func (d *DiscordProvider) Supports(channel Channel) bool {
	_, ok := d.webhooks[channel]
	return ok
}

// Send implements Provider.
func (d *DiscordProvider) Send(ctx context.Context, msg *Message) error {
	url, ok := d.webhooks[msg.Channel]
	if !ok {
		return errors.Newf("no discord webhook configured for channel %s", msg.Channel).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	embed, filename := buildEmbed(msg)
	payload := discordPayload{Embeds: []discordEmbed{embed}}

	var (
		resp *http.Response
		err  error
	)
	if len(msg.Image) > 0 {
		body, contentType, encErr := multipartBody(payload, filename, msg.Image)
		if encErr != nil {
			return errors.New(encErr).
				Component("notification").
				Category(errors.CategoryNotification).
				Context("operation", "encode_multipart").
				Build()
		}
		resp, err = d.client.Post(ctx, url, contentType, body)
	} else {
		resp, err = d.client.Post(ctx, url, "application/json", payload)
	}
	if err != nil {
		// url.Error carries the webhook token in its message
		return errors.Newf("discord webhook request failed: %s", logger.RedactSensitiveData(err.Error())).
			Component("notification").
			Category(errors.CategoryNetwork).
			Context("channel", string(msg.Channel)).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		category := errors.CategoryHTTP
		if resp.StatusCode == http.StatusTooManyRequests {
			category = errors.CategoryLimit
		}
		return errors.Newf("discord webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))).
			Component("notification").
			Category(category).
			Context("channel", string(msg.Channel)).
			Context("status_code", resp.StatusCode).
			Build()
	}

	d.log.Debug("discord message delivered",
		logger.String("channel", string(msg.Channel)),
		logger.String("message_id", msg.ID.String()),
		logger.Bool("has_image", len(msg.Image) > 0))
	return nil
}

// buildEmbed returns the embed for msg and the attachment name its image
// refers to.
func buildEmbed(msg *Message) (discordEmbed, string) {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	embed := discordEmbed{
		Description: truncate(msg.Description, maxEmbedDescription),
		Timestamp:   ts.Format(time.RFC3339),
	}

	var filename string
	if msg.Channel == ChannelStatus {
		embed.Title = StatusReportTitle
		embed.Color = ColorStatus
		filename = statusImageName
	} else {
		embed.Title = alertTitlePrefix + msg.Title
		embed.Color = RiskColor(msg.Level)
		embed.Fields = []discordField{{
			Name:   riskLevelFieldName,
			Value:  strings.ToUpper(string(msg.Level)),
			Inline: true,
		}}
		filename = alertImageName
	}
	if len(msg.Image) > 0 {
		embed.Image = &discordImage{URL: "attachment://" + filename}
	}
	return embed, filename
}

func multipartBody(payload discordPayload, filename string, image []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal payload: %w", err)
	}
	if err := w.WriteField("payload_json", string(data)); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("files[0]", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

// channelNames lists the channels p supports, for status output.
func channelNames(p Provider) []string {
	var names []string
	for _, ch := range []Channel{ChannelWarning, ChannelStatus} {
		if p.Supports(ch) {
			names = append(names, string(ch))
		}
	}
	return names
}

var _ Provider = (*DiscordProvider)(nil)
