// Package planstore provides read-only access to recovery plan and account
// configuration loaded from a YAML document. The orchestration engine treats
// it as an external collaborator: plans define waves, accounts define
// staging relationships and role-assumption overrides.
package planstore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LaunchSettings carries per-server launch configuration applied before a
// recovery job starts. Pointer fields distinguish "unset" from "false" so
// overrides only replace what they name.
type LaunchSettings struct {
	CopyPrivateIP     *bool  `yaml:"copy_private_ip"`
	CopyTags          *bool  `yaml:"copy_tags"`
	LaunchDisposition string `yaml:"launch_disposition"`
	RightSizing       string `yaml:"right_sizing"`
}

// Wave describes one ordered tier of a recovery plan. Exactly one of
// Servers or Tags must be set: a static server list, or a tag filter
// resolved at execution time.
type Wave struct {
	Name            string                    `yaml:"name"`
	Servers         []string                  `yaml:"servers"`
	Tags            map[string]string         `yaml:"tags"`
	LaunchDefaults  *LaunchSettings           `yaml:"launch_defaults"`
	ServerOverrides map[string]LaunchSettings `yaml:"server_overrides"`
}

// Plan is an ordered sequence of waves executed against a target account.
type Plan struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	TargetAccountID string `yaml:"target_account_id"`
	Region          string `yaml:"region"`
	RoleARN         string `yaml:"role_arn"`
	Waves           []Wave `yaml:"waves"`
}

// Account describes a target account and its staging relationships.
type Account struct {
	ID              string   `yaml:"id"`
	Regions         []string `yaml:"regions"`
	StagingAccounts []string `yaml:"staging_accounts"`
	RoleARN         string   `yaml:"role_arn"`
}

type document struct {
	Plans    []Plan    `yaml:"plans"`
	Accounts []Account `yaml:"accounts"`
}

// Store indexes the parsed document for lookup by id.
type Store struct {
	plans    map[string]Plan
	accounts map[string]Account
}

// Load reads and parses the plan document at path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Store from a YAML document.
func Parse(data []byte) (*Store, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan document: %w", err)
	}

	s := &Store{
		plans:    make(map[string]Plan, len(doc.Plans)),
		accounts: make(map[string]Account, len(doc.Accounts)),
	}

	for _, plan := range doc.Plans {
		if err := validatePlan(plan); err != nil {
			return nil, err
		}
		if _, dup := s.plans[plan.ID]; dup {
			return nil, fmt.Errorf("duplicate plan id %q", plan.ID)
		}
		s.plans[plan.ID] = plan
	}

	for _, account := range doc.Accounts {
		if strings.TrimSpace(account.ID) == "" {
			return nil, errors.New("account id is required")
		}
		if _, dup := s.accounts[account.ID]; dup {
			return nil, fmt.Errorf("duplicate account id %q", account.ID)
		}
		s.accounts[account.ID] = account
	}

	return s, nil
}

func validatePlan(plan Plan) error {
	if strings.TrimSpace(plan.ID) == "" {
		return errors.New("plan id is required")
	}
	if strings.TrimSpace(plan.TargetAccountID) == "" {
		return fmt.Errorf("plan %q: target_account_id is required", plan.ID)
	}
	if strings.TrimSpace(plan.Region) == "" {
		return fmt.Errorf("plan %q: region is required", plan.ID)
	}
	if len(plan.Waves) == 0 {
		return fmt.Errorf("plan %q: at least one wave is required", plan.ID)
	}
	for i, wave := range plan.Waves {
		hasServers := len(wave.Servers) > 0
		hasTags := len(wave.Tags) > 0
		if hasServers == hasTags {
			return fmt.Errorf("plan %q wave %d: exactly one of servers or tags must be set", plan.ID, i)
		}
		for _, id := range wave.Servers {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("plan %q wave %d: blank server id", plan.ID, i)
			}
		}
	}
	return nil
}

// ErrNotFound marks a plan or account id lookup miss.
var ErrNotFound = errors.New("not found")

// Plan returns the plan with the given id.
func (s *Store) Plan(id string) (Plan, error) {
	if s == nil {
		return Plan{}, errors.New("nil store")
	}
	plan, ok := s.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("plan %q: %w", id, ErrNotFound)
	}
	return plan, nil
}

// Account returns the account configuration for the given id.
func (s *Store) Account(id string) (Account, error) {
	if s == nil {
		return Account{}, errors.New("nil store")
	}
	account, ok := s.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("account %q: %w", id, ErrNotFound)
	}
	return account, nil
}

// LaunchFor merges the wave's launch defaults with the per-server override.
// Override fields that are set win; unset fields fall through to defaults.
func (w Wave) LaunchFor(serverID string) LaunchSettings {
	var merged LaunchSettings
	if w.LaunchDefaults != nil {
		merged = *w.LaunchDefaults
	}
	override, ok := w.ServerOverrides[serverID]
	if !ok {
		return merged
	}
	if override.CopyPrivateIP != nil {
		merged.CopyPrivateIP = override.CopyPrivateIP
	}
	if override.CopyTags != nil {
		merged.CopyTags = override.CopyTags
	}
	if override.LaunchDisposition != "" {
		merged.LaunchDisposition = override.LaunchDisposition
	}
	if override.RightSizing != "" {
		merged.RightSizing = override.RightSizing
	}
	return merged
}

// IsZero reports whether no launch setting is populated, letting callers
// skip the remote configuration call entirely.
func (ls LaunchSettings) IsZero() bool {
	return ls.CopyPrivateIP == nil && ls.CopyTags == nil &&
		ls.LaunchDisposition == "" && ls.RightSizing == ""
}
