package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Settings selects the notification backends.
type Settings struct {
	Region      string // region for SES/SNS clients; empty uses the SDK default
	Profile     string
	EmailFrom   string
	EmailTo     string
	SNSTopicARN string
}

// EmailEnabled reports whether both email addresses are set.
func (s Settings) EmailEnabled() bool {
	return s.EmailFrom != "" && s.EmailTo != ""
}

// Enabled reports whether any backend is configured.
func (s Settings) Enabled() bool {
	return s.EmailEnabled() || s.SNSTopicARN != ""
}

// New builds the configured backends. Unconfigured backends are left nil.
func New(ctx context.Context, s Settings) (Backends, error) {
	var b Backends
	if !s.Enabled() {
		return b, nil
	}

	var opts []func(*config.LoadOptions) error
	if s.Region != "" {
		opts = append(opts, config.WithRegion(s.Region))
	}
	if s.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(s.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return b, fmt.Errorf("load aws config: %w", err)
	}

	if s.EmailEnabled() {
		b.Email = NewSES(sesv2.NewFromConfig(awsCfg))
	}
	if s.SNSTopicARN != "" {
		b.Topic = NewSNS(sns.NewFromConfig(awsCfg, topicRegion(s.SNSTopicARN)), s.SNSTopicARN)
	}
	return b, nil
}

// topicRegion pins the SNS client to the region embedded in the topic ARN.
func topicRegion(topicARN string) func(*sns.Options) {
	return func(o *sns.Options) {
		if a, err := arn.Parse(topicARN); err == nil && a.Region != "" {
			o.Region = a.Region
		}
	}
}
