package oauth

import (
	"context"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"token-broker/internal/common/logging"
)

const (
	defaultAWSRegion = "us-west-2"
	awsService       = "medical-imaging"
)

// resolveAWSRegion reads the region from the SDK's default configuration
// chain: AWS_REGION, AWS_DEFAULT_REGION, then the shared config profile.
var resolveAWSRegion = func(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return ""
	}
	return cfg.Region
}

// AWSProvider runs the client-credentials flow for AWS HealthImaging
// endpoints that front an OAuth2 token service.
//
// SigV4 request signing is not implemented; tokens are plain bearer
// tokens from the configured endpoint.
type AWSProvider struct {
	cc        *clientCredentials
	validator *Validator
	region    string

	warnOnce sync.Once
}

// NewAWSProvider builds the AWS provider. Region falls back to the SDK
// default chain, then us-west-2.
func NewAWSProvider(cfg Config, deps Deps) (*AWSProvider, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}

	cc, err := newClientCredentials(TypeAWS, cfg, deps)
	if err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = resolveAWSRegion(context.Background())
	}
	if region == "" {
		region = defaultAWSRegion
	}

	validator, err := NewValidator(cfg.Validation, deps.HTTPClient, cc.logger)
	if err != nil {
		return nil, err
	}

	return &AWSProvider{cc: cc, validator: validator, region: region}, nil
}

func (p *AWSProvider) Name() string {
	return TypeAWS
}

// Region returns the resolved AWS region
func (p *AWSProvider) Region() string {
	return p.region
}

func (p *AWSProvider) AcquireToken(ctx context.Context) (*Token, error) {
	p.warnOnce.Do(func() {
		p.cc.logger.Warn("AWS SigV4 request signing is not implemented, using bearer token flow",
			logging.String("region", p.region),
			logging.String("service", awsService),
		)
	})

	token, err := p.cc.acquire(ctx)
	if err != nil {
		p.cc.logger.Error("AWS token acquisition failed", err, logging.String("region", p.region))
		return nil, err
	}
	return token, nil
}

func (p *AWSProvider) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	return p.cc.refresh(ctx, refreshToken)
}

func (p *AWSProvider) ValidateToken(ctx context.Context, token string) (bool, error) {
	return p.validator.Validate(ctx, token)
}
