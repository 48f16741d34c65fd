// Package catalog queries the EC2 image catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"

	"github.com/colebrumley/amitrigger/internal/ami"
	"github.com/colebrumley/amitrigger/internal/config"
)

// DefaultRegion is used when neither the trigger nor the global config names one.
const DefaultRegion = "us-east-1"

// Config selects and tunes an EC2 catalog client.
type Config struct {
	Region      string
	Profile     string
	EndpointURL string
	ProxyURL    string
	// AccessKeyID and SecretAccessKey override the default credential chain.
	AccessKeyID     string
	SecretAccessKey string
	// MaxAttempts is passed to the SDK retryer; 0 keeps the SDK default.
	MaxAttempts int
	// RetryElapsed bounds the outer backoff on throttling; 0 disables it.
	RetryElapsed time.Duration
}

// Key identifies clients that can be shared.
func (c Config) Key() string {
	return c.Profile + "|" + c.Region + "|" + c.EndpointURL
}

// ConfigFor resolves the client settings of def against the global AWS
// defaults. def may be an empty definition.
func ConfigFor(g *config.Global, def *config.TriggerDef) Config {
	cfg := Config{
		Region:       def.EffectiveRegion(g),
		Profile:      def.Profile(g),
		EndpointURL:  g.AWS.EndpointURL,
		ProxyURL:     g.AWS.ProxyURL,
		MaxAttempts:  g.AWS.MaxAttempts,
		RetryElapsed: time.Duration(g.AWS.RetryElapsedSeconds) * time.Second,
	}
	if def.EndpointURL != "" {
		cfg.EndpointURL = def.EndpointURL
	}
	return cfg
}

// DescribeImagesAPI is the subset of the EC2 client used here.
type DescribeImagesAPI interface {
	DescribeImages(ctx context.Context, in *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
}

// EC2 lists AMIs through DescribeImages.
type EC2 struct {
	api          DescribeImagesAPI
	region       string
	retryElapsed time.Duration
	logger       *slog.Logger
}

// New loads the AWS configuration for cfg and builds a client.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*EC2, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.MaxAttempts))
	}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		client := awshttp.NewBuildableClient().WithTransportOptions(func(tr *http.Transport) {
			tr.Proxy = http.ProxyURL(proxy)
		})
		opts = append(opts, awsconfig.WithHTTPClient(client))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	api := ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
	})
	return NewWithAPI(api, cfg, logger), nil
}

// NewWithAPI wraps an existing DescribeImages implementation.
func NewWithAPI(api DescribeImagesAPI, cfg Config, logger *slog.Logger) *EC2 {
	if logger == nil {
		logger = slog.Default()
	}
	return &EC2{
		api:          api,
		region:       cfg.Region,
		retryElapsed: cfg.RetryElapsed,
		logger:       logger,
	}
}

func (c *EC2) Region() string { return c.region }

// ListImagesSortedByRecency runs DescribeImages over every page and returns
// the images newest first.
func (c *EC2) ListImagesSortedByRecency(ctx context.Context, criteria []ami.Criterion) ([]ami.Image, error) {
	input := &ec2.DescribeImagesInput{Filters: toFilters(criteria)}

	var images []ami.Image
	op := func() error {
		images = images[:0]
		p := ec2.NewDescribeImagesPaginator(c.api, input)
		for p.HasMorePages() {
			out, err := p.NextPage(ctx)
			if err != nil {
				if isThrottle(err) {
					c.logger.Warn("describe images throttled, backing off", "region", c.region, "error", err)
					return err
				}
				return backoff.Permanent(err)
			}
			for _, img := range out.Images {
				images = append(images, fromEC2(img))
			}
		}
		return nil
	}

	var err error
	if c.retryElapsed > 0 {
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = c.retryElapsed
		err = backoff.Retry(op, backoff.WithContext(bo, ctx))
	} else {
		err = op()
	}
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return nil, fmt.Errorf("describe images in %s: %w", c.region, err)
	}

	ami.SortByRecency(images)
	return images, nil
}

var throttleCodes = map[string]bool{
	"RequestLimitExceeded": true,
	"Throttling":           true,
	"ThrottlingException":  true,
	"RequestThrottled":     true,
	"ServiceUnavailable":   true,
	"InternalError":        true,
}

func isThrottle(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return throttleCodes[apiErr.ErrorCode()]
	}
	return false
}

func toFilters(criteria []ami.Criterion) []types.Filter {
	filters := make([]types.Filter, 0, len(criteria))
	for _, c := range criteria {
		filters = append(filters, types.Filter{
			Name:   aws.String(c.Name),
			Values: []string{c.Value},
		})
	}
	return filters
}

func fromEC2(img types.Image) ami.Image {
	out := ami.Image{
		ID:           aws.ToString(img.ImageId),
		CreationDate: aws.ToString(img.CreationDate),
		Description:  aws.ToString(img.Description),
		Architecture: string(img.Architecture),
		Hypervisor:   string(img.Hypervisor),
		Type:         string(img.ImageType),
		Name:         aws.ToString(img.Name),
		OwnerAlias:   aws.ToString(img.ImageOwnerAlias),
		OwnerID:      aws.ToString(img.OwnerId),
		Public:       img.Public,
	}
	for _, pc := range img.ProductCodes {
		out.ProductCodes = append(out.ProductCodes, ami.ProductCode{
			ID:   aws.ToString(pc.ProductCodeId),
			Type: string(pc.ProductCodeType),
		})
	}
	for _, t := range img.Tags {
		out.Tags = append(out.Tags, ami.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return out
}
