package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// snsSubjectLimit is the SNS maximum subject length.
const snsSubjectLimit = 100

// SNSAPI defines the SNS operations used by the notifier.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes the report to a topic.
type SNS struct {
	client   SNSAPI
	topicARN string
}

// NewSNS creates an SNS notifier for topicARN.
func NewSNS(client SNSAPI, topicARN string) *SNS {
	return &SNS{client: client, topicARN: topicARN}
}

// Send publishes msg. From/To are ignored; subscribers are managed on the topic.
func (s *SNS) Send(ctx context.Context, msg Message) error {
	subject := msg.Subject
	if len(subject) > snsSubjectLimit {
		subject = subject[:snsSubjectLimit]
	}

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(msg.Body),
	})
	if err != nil {
		return fmt.Errorf("sns publish %s: %w", s.topicARN, err)
	}
	return nil
}
