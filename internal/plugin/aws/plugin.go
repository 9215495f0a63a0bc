// Package aws implements the EC2 snapshot plugin for autosnap.
package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/smithy-go"

	"github.com/yairfalse/autosnap/internal/plugin"
)

// PluginName registers the EC2 plugin.
const PluginName = "aws"

// DefaultCallTimeout bounds every EC2 round trip when Config leaves it unset.
const DefaultCallTimeout = 30 * time.Second

// Plugin implements plugin.Plugin against EC2 in one region.
type Plugin struct {
	region      string
	callTimeout time.Duration

	// AWS clients (interfaces for testability)
	ec2Client EC2API
}

// Config holds AWS plugin configuration.
type Config struct {
	Region      string
	Profile     string
	CallTimeout time.Duration
	MaxAttempts int // 0 keeps the SDK default retryer
}

// New creates a new AWS plugin.
func New(ctx context.Context, cfg Config) (*Plugin, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newWithClient(cfg.Region, cfg.CallTimeout, ec2.NewFromConfig(awsCfg)), nil
}

func newWithClient(region string, timeout time.Duration, client EC2API) *Plugin {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Plugin{
		region:      region,
		callTimeout: timeout,
		ec2Client:   client,
	}
}

// Factory returns a plugin.Factory that builds a Plugin per region from base.
func Factory(base Config) plugin.Factory {
	return func(ctx context.Context, region string) (plugin.Plugin, error) {
		cfg := base
		cfg.Region = region
		return New(ctx, cfg)
	}
}

// DefaultRegion resolves the region the SDK would use without an explicit one
// (AWS_REGION, shared config profile).
func DefaultRegion(ctx context.Context, profile string) (string, error) {
	var opts []func(*config.LoadOptions) error
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		return "", errors.New("no default aws region configured")
	}
	return awsCfg.Region, nil
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return PluginName
}

// Region returns the bound region.
func (p *Plugin) Region() string {
	return p.region
}

// callContext bounds a single EC2 round trip.
func (p *Plugin) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.callTimeout)
}

// transientCodes are EC2 error codes worth reporting as transient.
var transientCodes = map[string]bool{
	"RequestLimitExceeded":                  true,
	"Throttling":                            true,
	"ThrottlingException":                   true,
	"SnapshotCreationPerVolumeRateExceeded": true,
	"InternalError":                         true,
	"InternalFailure":                       true,
	"ServiceUnavailable":                    true,
	"Unavailable":                           true,
	"RequestTimeout":                        true,
}

// wrapError converts an SDK error into a *plugin.ProviderError.
func wrapError(op, resourceID string, err error) error {
	if err == nil {
		return nil
	}
	pe := &plugin.ProviderError{Op: op, Resource: resourceID, Err: err}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		pe.Code = apiErr.ErrorCode()
		pe.Transient = transientCodes[pe.Code] || apiErr.ErrorFault() == smithy.FaultServer
	}
	if errors.Is(err, context.DeadlineExceeded) {
		pe.Transient = true
	}
	return pe
}

// errorCode returns the smithy error code of err, or "".
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

var _ plugin.Plugin = (*Plugin)(nil)
