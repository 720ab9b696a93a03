package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/logger"
)

// SESAPI is the slice of the SES v2 client the sender needs.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends through AWS SES v2.
type SESSender struct {
	client           SESAPI
	configurationSet string
}

// NewSESSender builds an SES client. Static keys are used when both are set,
// otherwise the default AWS credential chain applies.
func NewSESSender(ctx context.Context, accessKey, secretKey, region, configurationSet string) (*SESSender, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewSESSenderWithClient(sesv2.NewFromConfig(cfg), configurationSet), nil
}

// NewSESSenderWithClient wraps an existing client.
func NewSESSenderWithClient(client SESAPI, configurationSet string) *SESSender {
	return &SESSender{client: client, configurationSet: configurationSet}
}

func (s *SESSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	from := msg.From
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.From)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if msg.Category != "" {
		input.EmailTags = []types.MessageTag{
			{Name: aws.String("category"), Value: aws.String(string(msg.Category))},
		}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		if isSESRejection(err) {
			return &domain.SendResult{Success: false, Provider: domain.ProviderSES, Error: err.Error()}, nil
		}
		return nil, fmt.Errorf("ses send: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	logger.Debug("ses accepted", "to", msg.To, "message_id", messageID)
	return &domain.SendResult{
		Success:   true,
		MessageID: messageID,
		Provider:  domain.ProviderSES,
		SentAt:    time.Now().UTC(),
	}, nil
}

// isSESRejection reports whether SES refused this particular message. Anything
// else (throttling, suspension, transport) is a provider failure.
func isSESRejection(err error) bool {
	var (
		rejected   *types.MessageRejected
		unverified *types.MailFromDomainNotVerifiedException
		badRequest *types.BadRequestException
		notFound   *types.NotFoundException
	)
	return errors.As(err, &rejected) || errors.As(err, &unverified) ||
		errors.As(err, &badRequest) || errors.As(err, &notFound)
}
