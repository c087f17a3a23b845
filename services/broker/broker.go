// Package broker issues short-lived, scoped credentials for remote accounts
// via STS role assumption. Leases are never persisted and never logged.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
)

const minSessionTTL = 15 * time.Minute

// CredentialError reports a failed role assumption. These fail fast: a bad
// external id or missing role does not get better by retrying.
type CredentialError struct {
	AccountID string
	RoleARN   string
	Err       error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("assume role %s in account %s: %v", e.RoleARN, e.AccountID, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

type stsAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Broker constructs per-account credential leases from a well-known role
// name pattern and a configuration-supplied external id.
type Broker struct {
	sts        stsAPI
	roleName   string
	externalID string
	sessionTTL time.Duration
	log        zerolog.Logger
}

// New initialises a Broker using the default credential chain in the given
// home region.
func New(ctx context.Context, roleName, externalID, region string, sessionTTL time.Duration, log zerolog.Logger) (*Broker, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithClient(sts.NewFromConfig(cfg), roleName, externalID, sessionTTL, log)
}

// NewWithClient wires a Broker around an existing STS client.
func NewWithClient(client stsAPI, roleName, externalID string, sessionTTL time.Duration, log zerolog.Logger) (*Broker, error) {
	if client == nil {
		return nil, errors.New("sts client is required")
	}
	if strings.TrimSpace(roleName) == "" {
		return nil, errors.New("role name is required")
	}
	if strings.TrimSpace(externalID) == "" {
		return nil, errors.New("external id is required")
	}
	if sessionTTL < minSessionTTL {
		sessionTTL = minSessionTTL
	}

	return &Broker{
		sts:        client,
		roleName:   roleName,
		externalID: externalID,
		sessionTTL: sessionTTL,
		log:        log,
	}, nil
}

// RoleARN returns the ARN that Lease would assume for accountID when no
// explicit override is supplied.
func (b *Broker) RoleARN(accountID string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, b.roleName)
}

// Lease assumes the account's orchestration role and returns an aws.Config
// scoped to the temporary session. explicitRoleARN, when non-empty,
// overrides the constructed ARN. Failures surface as *CredentialError and
// are not retried.
func (b *Broker) Lease(ctx context.Context, accountID, explicitRoleARN, region string) (aws.Config, error) {
	if b == nil {
		return aws.Config{}, errors.New("nil broker")
	}
	if strings.TrimSpace(accountID) == "" {
		return aws.Config{}, errors.New("account id is required")
	}
	if strings.TrimSpace(region) == "" {
		return aws.Config{}, errors.New("region is required")
	}

	roleARN := explicitRoleARN
	if roleARN == "" {
		roleARN = b.RoleARN(accountID)
	}

	seconds := int32(b.sessionTTL / time.Second)
	sessionName := sessionNameFor(accountID)

	out, err := b.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         &roleARN,
		RoleSessionName: &sessionName,
		ExternalId:      &b.externalID,
		DurationSeconds: &seconds,
	})
	if err != nil {
		return aws.Config{}, &CredentialError{AccountID: accountID, RoleARN: roleARN, Err: err}
	}
	if out.Credentials == nil || out.Credentials.AccessKeyId == nil || out.Credentials.SecretAccessKey == nil {
		return aws.Config{}, &CredentialError{AccountID: accountID, RoleARN: roleARN, Err: errors.New("sts returned no credentials")}
	}

	b.log.Debug().Str("account", accountID).Str("region", region).Msg("issued credential lease")

	token := ""
	if out.Credentials.SessionToken != nil {
		token = *out.Credentials.SessionToken
	}

	return aws.Config{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			*out.Credentials.AccessKeyId,
			*out.Credentials.SecretAccessKey,
			token,
		),
	}, nil
}

func sessionNameFor(accountID string) string {
	name := "recoveryd-" + accountID
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}
