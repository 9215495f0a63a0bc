package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/autosnap/internal/backup"
	"github.com/yairfalse/autosnap/internal/config"
	awsplugin "github.com/yairfalse/autosnap/internal/plugin/aws"
)

// configEnv names the config file when running as a Lambda function.
const configEnv = "AUTOSNAP_CONFIG"

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Serve backup runs as an AWS Lambda handler",
	Long: `Serve backup runs as an AWS Lambda handler.

Each invocation event is a JSON payload with the same keys as the run
command's --payload. Scheduled events without those keys run with the
configured defaults. Without regions, the function's own region is used.
The config file is read from --config or $AUTOSNAP_CONFIG.`,
	Args: cobra.NoArgs,
	RunE: runLambda,
}

func init() {
	rootCmd.AddCommand(lambdaCmd)
}

func runLambda(_ *cobra.Command, _ []string) error {
	if configPath == "" {
		configPath = os.Getenv(configEnv)
	}
	base, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(base.Log.Level, true)

	lambda.Start(newLambdaHandler(base))
	return nil
}

type lambdaResponse struct {
	RunID         string   `json:"run_id"`
	Regions       []string `json:"regions"`
	Instances     int      `json:"instances"`
	Created       int      `json:"snapshots_created"`
	Deleted       int      `json:"snapshots_deleted"`
	Failures      int      `json:"failures"`
	Notifications int      `json:"notifications"`
}

func newLambdaResponse(sum backup.Summary) lambdaResponse {
	resp := lambdaResponse{
		RunID:         sum.RunID,
		Instances:     sum.Instances,
		Created:       sum.Created,
		Deleted:       sum.Deleted,
		Failures:      sum.Failures,
		Notifications: sum.Notifications,
	}
	for _, r := range sum.Regions {
		resp.Regions = append(resp.Regions, r.Region)
	}
	return resp
}

func newLambdaHandler(base *config.Config) func(context.Context, json.RawMessage) (lambdaResponse, error) {
	return func(ctx context.Context, event json.RawMessage) (lambdaResponse, error) {
		cfg := cloneConfig(base)
		if err := cfg.ApplyPayload(event); err != nil {
			return lambdaResponse{}, err
		}
		if err := cfg.Validate(); err != nil {
			return lambdaResponse{}, fmt.Errorf("invalid configuration: %w", err)
		}

		metrics := newTelemetry(ctx, cfg)
		defer shutdownTelemetry(metrics)

		profile := cfg.AWS.Profile
		runner, err := newRunner(ctx, cfg, metrics, func(ctx context.Context) (string, error) {
			region, err := invokedRegion(ctx)
			if err == nil {
				return region, nil
			}
			log.Debug().Err(err).Msg("falling back to sdk default region")
			return awsplugin.DefaultRegion(ctx, profile)
		})
		if err != nil {
			return lambdaResponse{}, err
		}

		sum, err := runner.Run(ctx, cfg)
		return newLambdaResponse(sum), err
	}
}

// cloneConfig copies base so a payload cannot leak into later invocations.
func cloneConfig(base *config.Config) *config.Config {
	cfg := *base
	cfg.Regions = slices.Clone(base.Regions)
	cfg.ExcludeTags = maps.Clone(base.ExcludeTags)
	return &cfg
}

// invokedRegion returns the region of the running function.
func invokedRegion(ctx context.Context) (string, error) {
	lc, ok := lambdacontext.FromContext(ctx)
	if !ok {
		return "", errors.New("no lambda context")
	}
	return regionFromARN(lc.InvokedFunctionArn)
}

// regionFromARN extracts the region field of an ARN such as
// arn:aws:lambda:us-west-1:123456789012:function:autosnap.
func regionFromARN(s string) (string, error) {
	a, err := arn.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse function arn: %w", err)
	}
	if a.Region == "" {
		return "", fmt.Errorf("function arn %q has no region", s)
	}
	return a.Region, nil
}
