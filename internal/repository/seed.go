package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
)

// Seed is the bootstrap data for a fresh deployment: the directory in
// creation order and an optional initial policy.
type Seed struct {
	Users  []workflow.User  `json:"users"`
	Policy *workflow.Policy `json:"policy,omitempty"`
}

// LoadSeed reads and checks a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	seed := &Seed{}
	if err := json.Unmarshal(data, seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	dir, err := workflow.NewDirectory(seed.Users)
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	if seed.Policy != nil {
		if err := seed.Policy.Validate(dir); err != nil {
			return nil, fmt.Errorf("seed file %s: %w", path, err)
		}
	}
	return seed, nil
}

type userUpserter interface {
	Upsert(ctx context.Context, u workflow.User) error
}

type policySaver interface {
	Save(ctx context.Context, policy *workflow.Policy, updatedBy string) error
}

// Apply writes the seed through users and policies. Users are inserted
// without managers first so manager references never point at a missing row.
func (s *Seed) Apply(ctx context.Context, users userUpserter, policies policySaver) error {
	for _, u := range s.Users {
		bare := u
		bare.ManagerID = nil
		if err := users.Upsert(ctx, bare); err != nil {
			return err
		}
	}
	for _, u := range s.Users {
		if u.ManagerID == nil {
			continue
		}
		if err := users.Upsert(ctx, u); err != nil {
			return err
		}
	}

	if s.Policy != nil {
		if err := policies.Save(ctx, s.Policy, "seed"); err != nil {
			return err
		}
	}
	return nil
}
