package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/jobweave/internal/config"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/rewrite"
)

// marshalConfig converts the pass configuration to canonical JSON TEXT.
func marshalConfig(cfg config.Config) (string, error) {
	data, err := ir.MarshalCanonical(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

// unmarshalConfig parses stored configuration JSON.
func unmarshalConfig(data string) (config.Config, error) {
	var cfg config.Config
	if data == "" || data == "{}" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return config.Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// marshalJob converts a job record to canonical JSON TEXT.
func marshalJob(job *rewrite.JobRecord) (string, error) {
	data, err := ir.MarshalCanonical(job)
	if err != nil {
		return "", fmt.Errorf("marshal job %s: %w", job.Name, err)
	}
	return string(data), nil
}

// unmarshalJob parses stored job record JSON. The synthesized type itself is
// not stored; Def() of the result is nil.
func unmarshalJob(data string) (*rewrite.JobRecord, error) {
	var job rewrite.JobRecord
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// jobTypeHash returns the hash of the job's synthesized type, or "" when
// the pass never built one.
func jobTypeHash(job *rewrite.JobRecord) (string, error) {
	if job.Def() == nil {
		return "", nil
	}
	h, err := ir.TypeHash(job.Def())
	if err != nil {
		return "", fmt.Errorf("hash job %s: %w", job.Name, err)
	}
	return h, nil
}
