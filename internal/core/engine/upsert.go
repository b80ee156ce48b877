package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xwander/tablewright/internal/core"
)

// UpsertPlan splits upsert candidates into updates of existing records and new creates.
//
// UpdateIndexes and CreateIndexes map positions in Updates and Creates back to the
// candidate list.
type UpsertPlan struct {
	Updates       []core.BatchItem
	UpdateIndexes []int
	Creates       []core.BatchItem
	CreateIndexes []int
}

// Total is the number of candidates in the plan.
func (p UpsertPlan) Total() int {
	return len(p.Updates) + len(p.Creates)
}

// PartitionUpsert matches candidates to existing records on the mergeOn fields.
//
// Matching compares the rendered values of every merge field. When several existing
// records share a key the first one wins. A candidate lacking a merge field is an error.
func PartitionUpsert(candidates []core.Fields, existing []core.Record, mergeOn []string) (UpsertPlan, error) {
	var plan UpsertPlan
	if len(mergeOn) == 0 {
		return plan, &core.ValidationError{Field: "merge_on", Detail: "at least one merge field is required"}
	}

	index := make(map[string]string, len(existing))
	for _, record := range existing {
		key, ok := mergeKey(record.Fields, mergeOn)
		if !ok {
			continue
		}
		if _, seen := index[key]; !seen {
			index[key] = record.ID
		}
	}

	for i, candidate := range candidates {
		key, ok := mergeKey(candidate, mergeOn)
		if !ok {
			return UpsertPlan{}, &core.ValidationError{
				Field:  strings.Join(mergeOn, ","),
				Detail: fmt.Sprintf("record %d is missing a merge field", i),
			}
		}

		if id, found := index[key]; found {
			plan.Updates = append(plan.Updates, core.BatchItem{ID: id, Fields: candidate})
			plan.UpdateIndexes = append(plan.UpdateIndexes, i)
			continue
		}
		plan.Creates = append(plan.Creates, core.BatchItem{Fields: candidate})
		plan.CreateIndexes = append(plan.CreateIndexes, i)
	}

	return plan, nil
}

func mergeKey(fields core.Fields, mergeOn []string) (string, bool) {
	parts := make([]string, 0, len(mergeOn))
	for _, name := range mergeOn {
		value, ok := fields[name]
		if !ok || value == nil {
			return "", false
		}
		parts = append(parts, fmt.Sprintf("%v", value))
	}
	return strings.Join(parts, "\x1f"), true
}

// Upsert runs the update half of plan, then the create half, and merges both
// results under a single upsert result indexed by candidate position.
//
// A systemic failure during updates skips the creates.
func (e *Executor) Upsert(ctx context.Context, target core.Target, plan UpsertPlan, chunkSize int, typecast bool, progress ProgressFunc) (*core.BatchResult, error) {
	total := plan.Total()
	merged := core.NewBatchResult(core.OperationUpsert, target, total)
	merged.StartedAt = e.now()

	updated := len(plan.Updates)
	updates, err := e.Run(ctx, Job{
		Operation: core.OperationUpdate,
		Target:    target,
		Items:     plan.Updates,
		ChunkSize: chunkSize,
		Typecast:  typecast,
		Progress:  offsetProgress(progress, 0, total),
	})
	mergeInto(merged, updates, plan.UpdateIndexes)
	if err != nil {
		merged.Duration = e.now().Sub(merged.StartedAt)
		return merged, err
	}

	creates, err := e.Run(ctx, Job{
		Operation: core.OperationCreate,
		Target:    target,
		Items:     plan.Creates,
		ChunkSize: chunkSize,
		Typecast:  typecast,
		Progress:  offsetProgress(progress, updated, total),
	})
	mergeInto(merged, creates, plan.CreateIndexes)

	sort.SliceStable(merged.Failed, func(i, j int) bool { return merged.Failed[i].Index < merged.Failed[j].Index })
	merged.Duration = e.now().Sub(merged.StartedAt)
	return merged, err
}

func mergeInto(dst, src *core.BatchResult, indexes []int) {
	if src == nil {
		return
	}
	dst.Successful += src.Successful
	dst.ChunksIssued += src.ChunksIssued
	dst.Retries += src.Retries
	dst.Records = append(dst.Records, src.Records...)
	for _, failure := range src.Failed {
		if failure.Index >= 0 && failure.Index < len(indexes) {
			failure.Index = indexes[failure.Index]
		}
		dst.Failed = append(dst.Failed, failure)
	}
	if src.Aborted {
		dst.Aborted = true
		dst.AbortReason = src.AbortReason
	}
}

func offsetProgress(progress ProgressFunc, offset, total int) ProgressFunc {
	if progress == nil {
		return nil
	}
	return func(completed, _ int) {
		progress(offset+completed, total)
	}
}

