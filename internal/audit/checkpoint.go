package audit

import (
	"context"
	"time"

	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/logger"
	"github.com/evidentia/platform/internal/shared/types"
	"github.com/evidentia/platform/internal/tsa"
)

// Witness obtains external timestamp proofs for checkpoint hashes.
type Witness interface {
	Seal(ctx context.Context, imprintHex string) (*tsa.Token, error)
}

// Checkpointer fixes audit chains with externally witnessed checkpoints.
type Checkpointer struct {
	repo    Repository
	witness Witness
}

// NewCheckpointer creates a checkpointer. The witness may be nil; the
// checkpoint is then recorded unwitnessed.
func NewCheckpointer(repo Repository, witness Witness) *Checkpointer {
	return &Checkpointer{repo: repo, witness: witness}
}

// Checkpoint commits a resource chain's current state. A witness failure
// degrades the checkpoint instead of blocking it; the hash commitment
// alone still pins the chain locally.
func (c *Checkpointer) Checkpoint(ctx context.Context, resourceType string, resourceID types.ID) (*Checkpoint, error) {
	entries, err := c.repo.Entries(ctx, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.NotFound("audit entries", resourceID.String())
	}

	checkpoint := &Checkpoint{
		ID:             types.NewID(),
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		CheckpointHash: ComputeCheckpointHash(entries),
		LastSequence:   entries[len(entries)-1].Sequence,
		EntryCount:     len(entries),
		WitnessStatus:  WitnessUnwitnessed,
		CreatedAt:      time.Now().UTC(),
	}

	if c.witness != nil {
		token, err := c.witness.Seal(ctx, checkpoint.CheckpointHash)
		if err != nil {
			checkpoint.WitnessStatus = WitnessFailed
			logger.L().Warnw("checkpoint witness failed",
				"resource_type", resourceType,
				"resource_id", resourceID,
				"error", err,
			)
		} else {
			checkpoint.WitnessProof = token.Raw
			checkpoint.WitnessStatus = WitnessWitnessed
		}
	}

	if err := c.repo.SaveCheckpoint(ctx, checkpoint); err != nil {
		return nil, err
	}
	return checkpoint, nil
}

// VerifyCheckpoint recomputes the checkpoint hash over the entries it
// covered and reports whether the chain prefix still matches.
func (c *Checkpointer) VerifyCheckpoint(ctx context.Context, checkpoint *Checkpoint) (bool, error) {
	entries, err := c.repo.Entries(ctx, checkpoint.ResourceType, checkpoint.ResourceID)
	if err != nil {
		return false, err
	}

	var covered []*Entry
	for _, e := range entries {
		if e.Sequence <= checkpoint.LastSequence {
			covered = append(covered, e)
		}
	}
	if len(covered) != checkpoint.EntryCount {
		return false, nil
	}
	return ComputeCheckpointHash(covered) == checkpoint.CheckpointHash, nil
}
