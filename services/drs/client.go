package drs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdrs "github.com/aws/aws-sdk-go-v2/service/drs"
	drstypes "github.com/aws/aws-sdk-go-v2/service/drs/types"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"

	"recoveryd/services/broker"
)

// Client implements API against AWS Elastic Disaster Recovery and EC2.
type Client struct {
	drs *awsdrs.Client
	ec2 *awsec2.Client
}

var _ API = (*Client)(nil)

// NewClient builds a Client from a leased (or ambient) aws.Config.
func NewClient(cfg aws.Config) *Client {
	return &Client{
		drs: awsdrs.NewFromConfig(cfg),
		ec2: awsec2.NewFromConfig(cfg),
	}
}

// Factory produces an API scoped to one account/region pair, typically by
// leasing credentials through the broker.
type Factory func(ctx context.Context, accountID, roleARN, region string) (API, error)

// NewFactory returns a Factory that leases credentials from b for every
// client it constructs. Leases are per-caller and never shared.
func NewFactory(b *broker.Broker) Factory {
	return func(ctx context.Context, accountID, roleARN, region string) (API, error) {
		cfg, err := b.Lease(ctx, accountID, roleARN, region)
		if err != nil {
			return nil, err
		}
		return NewClient(cfg), nil
	}
}

// StartRecovery launches one recovery job covering all of the wave's
// servers. Drill jobs recover into an isolated test context.
func (c *Client) StartRecovery(ctx context.Context, serverIDs []string, drill bool) (string, error) {
	if len(serverIDs) == 0 {
		return "", errors.New("at least one server id is required")
	}

	servers := make([]drstypes.StartRecoveryRequestSourceServer, 0, len(serverIDs))
	for _, id := range serverIDs {
		servers = append(servers, drstypes.StartRecoveryRequestSourceServer{SourceServerID: &id})
	}

	out, err := retryCall(ctx, "start recovery", func(ctx context.Context) (*awsdrs.StartRecoveryOutput, error) {
		return c.drs.StartRecovery(ctx, &awsdrs.StartRecoveryInput{
			SourceServers: servers,
			IsDrill:       &drill,
		})
	})
	if err != nil {
		return "", err
	}
	if out.Job == nil || out.Job.JobID == nil {
		return "", errors.New("start recovery returned no job id")
	}
	return *out.Job.JobID, nil
}

// DescribeJob returns the job's status and per-server launch states.
func (c *Client) DescribeJob(ctx context.Context, jobID string) (*JobStatus, error) {
	if jobID == "" {
		return nil, errors.New("job id is required")
	}

	out, err := retryCall(ctx, "describe job", func(ctx context.Context) (*awsdrs.DescribeJobsOutput, error) {
		return c.drs.DescribeJobs(ctx, &awsdrs.DescribeJobsInput{
			Filters: &drstypes.DescribeJobsRequestFilters{JobIDs: []string{jobID}},
		})
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("job %s not found", jobID)
	}

	job := out.Items[0]
	status := &JobStatus{
		JobID: jobID,
		State: JobState(job.Status),
	}
	for _, ps := range job.ParticipatingServers {
		if ps.SourceServerID == nil {
			continue
		}
		server := ParticipatingServer{
			SourceServerID: *ps.SourceServerID,
			LaunchState:    normalizeLaunchStatus(ps.LaunchStatus),
		}
		if ps.RecoveryInstanceID != nil {
			server.RecoveryInstanceID = *ps.RecoveryInstanceID
		}
		status.Servers = append(status.Servers, server)
	}
	return status, nil
}

// ServersByTags resolves source servers matching every provided tag
// key/value pair. Values compare case-insensitively. No match is an empty
// result, not an error.
func (c *Client) ServersByTags(ctx context.Context, filters map[string]string) ([]string, error) {
	if len(filters) == 0 {
		return nil, errors.New("at least one tag filter is required")
	}

	servers, err := c.ListSourceServers(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, server := range servers {
		if matchesTags(server.Tags, filters) {
			ids = append(ids, server.ID)
		}
	}
	return ids, nil
}

func matchesTags(tags, filters map[string]string) bool {
	for key, want := range filters {
		got, ok := tags[key]
		if !ok || !strings.EqualFold(got, want) {
			return false
		}
	}
	return true
}

// ListSourceServers pages through every source server in the account.
func (c *Client) ListSourceServers(ctx context.Context) ([]SourceServer, error) {
	input := &awsdrs.DescribeSourceServersInput{
		Filters: &drstypes.DescribeSourceServersRequestFilters{},
	}

	var servers []SourceServer
	paginator := awsdrs.NewDescribeSourceServersPaginator(c.drs, input)
	for paginator.HasMorePages() {
		page, err := retryCall(ctx, "describe source servers", func(ctx context.Context) (*awsdrs.DescribeSourceServersOutput, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if item.SourceServerID == nil {
				continue
			}
			server := SourceServer{
				ID:   *item.SourceServerID,
				Tags: item.Tags,
			}
			if item.DataReplicationInfo != nil {
				state := string(item.DataReplicationInfo.DataReplicationState)
				server.ReplicationState = state
				server.Replicating = replicating(state)
			}
			servers = append(servers, server)
		}
	}
	return servers, nil
}

func replicating(state string) bool {
	switch state {
	case "", string(drstypes.DataReplicationStateStopped),
		string(drstypes.DataReplicationStateDisconnected):
		return false
	default:
		return true
	}
}

// ApplyLaunchConfig pushes the merged launch configuration for one server.
// Configuration must land before the job starts; it cannot be corrected
// mid-flight.
func (c *Client) ApplyLaunchConfig(ctx context.Context, cfg LaunchConfig) error {
	if cfg.SourceServerID == "" {
		return errors.New("source server id is required")
	}

	input := &awsdrs.UpdateLaunchConfigurationInput{
		SourceServerID: &cfg.SourceServerID,
		CopyPrivateIp:  cfg.CopyPrivateIP,
		CopyTags:       cfg.CopyTags,
	}
	if cfg.LaunchDisposition != "" {
		input.LaunchDisposition = drstypes.LaunchDisposition(strings.ToUpper(cfg.LaunchDisposition))
	}
	if cfg.RightSizing != "" {
		input.TargetInstanceTypeRightSizingMethod = drstypes.TargetInstanceTypeRightSizingMethod(strings.ToUpper(cfg.RightSizing))
	}

	_, err := retryCall(ctx, "update launch configuration", func(ctx context.Context) (*awsdrs.UpdateLaunchConfigurationOutput, error) {
		return c.drs.UpdateLaunchConfiguration(ctx, input)
	})
	return err
}

// RecoveryInstancesForServers maps source servers to the recovery instances
// their jobs launched. Used for enrichment only.
func (c *Client) RecoveryInstancesForServers(ctx context.Context, sourceServerIDs []string) ([]RecoveryInstance, error) {
	if len(sourceServerIDs) == 0 {
		return nil, nil
	}

	out, err := retryCall(ctx, "describe recovery instances", func(ctx context.Context) (*awsdrs.DescribeRecoveryInstancesOutput, error) {
		return c.drs.DescribeRecoveryInstances(ctx, &awsdrs.DescribeRecoveryInstancesInput{
			Filters: &drstypes.DescribeRecoveryInstancesRequestFilters{
				SourceServerIDs: sourceServerIDs,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	var instances []RecoveryInstance
	for _, item := range out.Items {
		if item.RecoveryInstanceID == nil {
			continue
		}
		instance := RecoveryInstance{ID: *item.RecoveryInstanceID}
		if item.SourceServerID != nil {
			instance.SourceServerID = *item.SourceServerID
		}
		if item.Ec2InstanceID != nil {
			instance.EC2InstanceID = *item.Ec2InstanceID
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// DescribeInstances fetches EC2 details for recovered instances.
func (c *Client) DescribeInstances(ctx context.Context, instanceIDs []string) ([]InstanceDetail, error) {
	if len(instanceIDs) == 0 {
		return nil, nil
	}

	out, err := retryCall(ctx, "describe instances", func(ctx context.Context) (*awsec2.DescribeInstancesOutput, error) {
		return c.ec2.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{
			InstanceIds: instanceIDs,
		})
	})
	if err != nil {
		return nil, err
	}

	var details []InstanceDetail
	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			if instance.InstanceId == nil {
				continue
			}
			detail := InstanceDetail{
				InstanceID:   *instance.InstanceId,
				InstanceType: string(instance.InstanceType),
				LaunchTime:   instance.LaunchTime,
			}
			if instance.PrivateIpAddress != nil {
				detail.PrivateIP = *instance.PrivateIpAddress
			}
			if instance.Placement != nil && instance.Placement.AvailabilityZone != nil {
				detail.AvailabilityZone = *instance.Placement.AvailabilityZone
			}
			details = append(details, detail)
		}
	}
	return details, nil
}

func normalizeLaunchStatus(status drstypes.LaunchStatus) LaunchState {
	switch status {
	case drstypes.LaunchStatusPending:
		return LaunchPending
	case drstypes.LaunchStatusInProgress:
		return LaunchInProgress
	case drstypes.LaunchStatusLaunched:
		return Launched
	case drstypes.LaunchStatusFailed:
		return LaunchFailed
	case drstypes.LaunchStatusTerminated:
		return LaunchTerminated
	default:
		return LaunchPending
	}
}
