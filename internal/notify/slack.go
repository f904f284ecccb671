package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/naka-gawa/grade-report/internal/domain"
	"github.com/slack-go/slack"
	"github.com/ubuntu/decorate"
)

// SlackConfig selects the channel report digests are posted to.
type SlackConfig struct {
	Token   string `mapstructure:"token"`
	Channel string `mapstructure:"channel"`
	// APIURL overrides the Slack Web API endpoint.
	APIURL string `mapstructure:"api_url"`
}

// Enabled reports whether both a token and a channel are configured.
func (c SlackConfig) Enabled() bool {
	return c.Token != "" && c.Channel != ""
}

// SlackNotifier posts a digest of each report to a Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier returns a SlackNotifier using the given SlackConfig.
func NewSlackNotifier(cfg SlackConfig, logger *slog.Logger) *SlackNotifier {
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &SlackNotifier{
		client:  slack.New(cfg.Token, opts...),
		channel: cfg.Channel,
		logger:  logger,
	}
}

// Notify posts the summary of msg as a block message.
func (n *SlackNotifier) Notify(ctx context.Context, msg Message) (err error) {
	defer decorate.OnError(&err, "could not post %q to Slack", msg.Subject)

	blocks := []slack.Block{
		textBlock(fmt.Sprintf("*%s*", msg.Subject)),
		textBlock(digest(msg.Summary)),
		slack.NewDividerBlock(),
	}
	channelID, timestamp, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionBlocks(blocks...))
	if err != nil {
		return err
	}
	n.logger.Info("Report digest posted to Slack", "channel", channelID, "timestamp", timestamp)
	return nil
}

// textBlock returns a slack SectionBlock for the given markdown.
func textBlock(input string) slack.Block {
	b := slack.NewTextBlockObject(slack.MarkdownType, input, false, false)
	return slack.NewSectionBlock(b, nil, nil)
}

// digest formats the grade counts of s, worst grade first.
func digest(s domain.Summary) string {
	var sb strings.Builder
	for _, g := range domain.GradeOrder {
		fmt.Fprintf(&sb, "`%s` %d  ", g, s.Counts[g])
	}
	fmt.Fprintf(&sb, "\n%d images in %d repositories.", s.Entries, s.Repositories)
	if s.Entries > 0 {
		fmt.Fprintf(&sb, " Fewest days remaining: %d, median: %.1f.", s.MinDaysRemaining, s.MedianDaysRemaining)
	}
	if s.Overdue > 0 {
		fmt.Fprintf(&sb, " *%d past their drop date.*", s.Overdue)
	}
	return sb.String()
}
