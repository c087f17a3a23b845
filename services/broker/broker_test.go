package broker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/rs/zerolog"
)

type fakeSTS struct {
	lastInput *sts.AssumeRoleInput
	err       error
	creds     *ststypes.Credentials
}

func (f *fakeSTS) AssumeRole(_ context.Context, input *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	f.lastInput = input
	if f.err != nil {
		return nil, f.err
	}
	creds := f.creds
	if creds == nil {
		key, secret, token := "AKIAEXAMPLE", "secret", "token"
		creds = &ststypes.Credentials{AccessKeyId: &key, SecretAccessKey: &secret, SessionToken: &token}
	}
	return &sts.AssumeRoleOutput{Credentials: creds}, nil
}

func newTestBroker(t *testing.T, client *fakeSTS) *Broker {
	t.Helper()
	b, err := NewWithClient(client, "RecoveryOrchestratorRole", "shared-external-id", time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	return b
}

func TestNewWithClientValidation(t *testing.T) {
	tests := []struct {
		name       string
		roleName   string
		externalID string
	}{
		{name: "blank role name", roleName: " ", externalID: "x"},
		{name: "blank external id", roleName: "Role", externalID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWithClient(&fakeSTS{}, tt.roleName, tt.externalID, time.Hour, zerolog.Nop()); err == nil {
				t.Fatal("NewWithClient() succeeded, want error")
			}
		})
	}
}

func TestRoleARN(t *testing.T) {
	b := newTestBroker(t, &fakeSTS{})
	got := b.RoleARN("123456789012")
	want := "arn:aws:iam::123456789012:role/RecoveryOrchestratorRole"
	if got != want {
		t.Fatalf("RoleARN() = %q, want %q", got, want)
	}
}

func TestLeaseSendsExternalID(t *testing.T) {
	client := &fakeSTS{}
	b := newTestBroker(t, client)

	cfg, err := b.Lease(context.Background(), "123456789012", "", "us-east-1")
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if cfg.Region != "us-east-1" {
		t.Fatalf("region = %q, want us-east-1", cfg.Region)
	}

	in := client.lastInput
	if in.ExternalId == nil || *in.ExternalId != "shared-external-id" {
		t.Fatal("external id was not sent on the assume-role call")
	}
	if *in.RoleArn != b.RoleARN("123456789012") {
		t.Fatalf("role arn = %q, want constructed default", *in.RoleArn)
	}
	if !strings.HasPrefix(*in.RoleSessionName, "recoveryd-") {
		t.Fatalf("session name = %q, want recoveryd- prefix", *in.RoleSessionName)
	}

	creds, err := cfg.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if creds.AccessKeyID != "AKIAEXAMPLE" || creds.SessionToken != "token" {
		t.Fatalf("credentials = %+v, want leased static credentials", creds)
	}
}

func TestLeaseExplicitRoleOverride(t *testing.T) {
	client := &fakeSTS{}
	b := newTestBroker(t, client)

	override := "arn:aws:iam::123456789012:role/CustomRole"
	if _, err := b.Lease(context.Background(), "123456789012", override, "us-east-1"); err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if *client.lastInput.RoleArn != override {
		t.Fatalf("role arn = %q, want explicit override", *client.lastInput.RoleArn)
	}
}

func TestLeaseFailureWrapsCredentialError(t *testing.T) {
	cause := errors.New("AccessDenied")
	b := newTestBroker(t, &fakeSTS{err: cause})

	_, err := b.Lease(context.Background(), "123456789012", "", "us-east-1")
	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("Lease() error = %T, want *CredentialError", err)
	}
	if credErr.AccountID != "123456789012" {
		t.Fatalf("account = %q", credErr.AccountID)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause is not reachable through Unwrap")
	}
}

func TestLeaseMissingCredentials(t *testing.T) {
	b := newTestBroker(t, &fakeSTS{creds: &ststypes.Credentials{}})

	_, err := b.Lease(context.Background(), "123456789012", "", "us-east-1")
	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("Lease() error = %T, want *CredentialError", err)
	}
}

func TestSessionNameCapped(t *testing.T) {
	long := strings.Repeat("9", 80)
	if got := sessionNameFor(long); len(got) != 64 {
		t.Fatalf("session name length = %d, want 64", len(got))
	}
}
