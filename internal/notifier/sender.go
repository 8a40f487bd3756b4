package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/config"
)

var ErrNoRecipient = errors.New("recipient email address is empty")

type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// sesAPI is the part of the SES client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESSender struct {
	client sesAPI
	source string
}

// NewSESSender builds an SES client. Static credentials are used when both
// key parts are set, otherwise the default AWS credential chain applies.
func NewSESSender(ctx context.Context, cfg config.EmailConfig) (*SESSender, error) {
	if cfg.Sender == "" {
		return nil, errors.New("notifier: sender email address is not configured")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("notifier: failed to load AWS SDK config: %w", err)
	}

	return &SESSender{client: ses.NewFromConfig(awsCfg), source: cfg.Sender}, nil
}

func utf8Content(s string) *types.Content {
	return &types.Content{Charset: aws.String("UTF-8"), Data: aws.String(s)}
}

func (s *SESSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}

	body := &types.Body{Text: utf8Content(msg.Text)}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}

	out, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(s.source),
		Destination: &types.Destination{ToAddresses: []string{msg.To}},
		Message: &types.Message{
			Subject: utf8Content(msg.Subject),
			Body:    body,
		},
	})
	if err != nil {
		return fmt.Errorf("notifier: failed to send email: %w", err)
	}

	log.Debug().Str("message_id", aws.ToString(out.MessageId)).Str("subject", msg.Subject).Msg("notifier: email sent")
	return nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("notifier: email delivery disabled, message logged")
	return nil
}
