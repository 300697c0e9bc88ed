package mainconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/cityhospital/appointment-bot/internal/config"
	"github.com/cityhospital/appointment-bot/internal/conversation"
)

var errNoQueueURL = errors.New("mainconfig: BOOKING_QUEUE_URL is required when USE_MEMORY_QUEUE=false")

// LoadAWSConfig loads the SDK config for the booking queue. Static keys are
// used when both are set, otherwise the default credential chain.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("mainconfig: load aws config: %w", err)
	}
	return awsCfg, nil
}

// NewSQSClient builds the SQS client, pointed at AWS_ENDPOINT_OVERRIDE
// (LocalStack) when set.
func NewSQSClient(awsCfg aws.Config, cfg *appconfig.Config) *sqs.Client {
	endpoint := strings.TrimSpace(cfg.AWSEndpointOverride)
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// NewBookingQueue is the SQS queue shared by the API publisher and the
// booking worker.
func NewBookingQueue(ctx context.Context, cfg *appconfig.Config) (*conversation.SQSQueue, error) {
	if strings.TrimSpace(cfg.BookingQueueURL) == "" {
		return nil, errNoQueueURL
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conversation.NewSQSQueue(NewSQSClient(awsCfg, cfg), cfg.BookingQueueURL), nil
}
