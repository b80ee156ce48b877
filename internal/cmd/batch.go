package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/client"
	"github.com/xwander/tablewright/internal/observability"
	"github.com/xwander/tablewright/internal/output"
)

var batchCmd = &cobra.Command{
	Use:   "batch <create|update|delete|upsert> <table> <file|->",
	Short: "Run a bulk write from a JSON or YAML file",
	Long: `Run a bulk write against a table.

The input is a JSON or YAML list. Each entry is either a fields object or
{"id": ..., "fields": {...}}. Deletes also accept a plain list of record ids.
Updates need an id on every entry; creates and upserts ignore ids.

Items are sent in chunks of at most 10. Per-item rejections are reported and
the run continues; authentication failures, a second 429 on the same chunk,
or cancellation stop the run and keep the results gathered so far.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := core.ParseOperation(strings.ToLower(args[0]))
		if err != nil {
			return &core.ValidationError{Field: "operation", Detail: err.Error()}
		}
		base, err := requireBase()
		if err != nil {
			return err
		}
		target := core.Target{BaseID: base, Table: args[1]}

		data, err := readInput(cmd, args[2])
		if err != nil {
			return err
		}
		items, err := parseBatchInput(data, op)
		if err != nil {
			return err
		}

		chunkSize, _ := cmd.Flags().GetInt("chunk-size")
		typecast, _ := cmd.Flags().GetBool("typecast")
		mergeOn, _ := cmd.Flags().GetStringSlice("merge-on")
		noProgress, _ := cmd.Flags().GetBool("no-progress")

		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		if op == core.OperationUpsert && len(mergeOn) == 0 {
			mergeOn = s.cfg.Batch.MergeOn
		}

		opts := client.BatchOptions{ChunkSize: chunkSize, Typecast: typecast}
		var progress *output.Progress
		if !noProgress && len(items) > 0 {
			progress = output.NewProgress(cmd.ErrOrStderr(), fmt.Sprintf("%s %s/%s", op, base, target.Table), len(items))
			opts.Progress = progress.Update
		}

		observability.CLILogger.Debug("Starting batch",
			zap.String("operation", string(op)),
			zap.String("base", base),
			zap.String("table", target.Table),
			zap.Int("items", len(items)))

		var result *core.BatchResult
		if op == core.OperationUpsert {
			result, err = s.client.BatchUpsert(cmd.Context(), target, candidates(items), mergeOn, opts)
		} else {
			result, err = s.client.Run(cmd.Context(), op, target, items, opts)
		}
		progress.Done()

		if result != nil {
			f, ferr := formatter()
			if ferr != nil {
				return ferr
			}
			rendered, ferr := f.FormatBatch(result)
			if ferr != nil {
				return ferr
			}
			render(cmd, rendered)
		}
		if err != nil {
			return err
		}
		if len(result.Failed) > 0 {
			return fmt.Errorf("%w: %d of %d", errPartialBatch, len(result.Failed), result.Total)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Int("chunk-size", 0, "records per request, 1-10 (default from batch.chunk_size)")
	batchCmd.Flags().Bool("typecast", false, "let the service coerce values to field types")
	batchCmd.Flags().StringSlice("merge-on", nil, "fields that identify an existing record for upsert")
	batchCmd.Flags().Bool("no-progress", false, "do not draw a progress bar")
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// parseBatchInput decodes a JSON or YAML list into batch items for op.
func parseBatchInput(data []byte, op core.Operation) ([]core.BatchItem, error) {
	var entries []any
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, &core.ValidationError{Field: "input", Detail: fmt.Sprintf("expected a JSON or YAML list: %v", err)}
	}

	items := make([]core.BatchItem, 0, len(entries))
	for i, entry := range entries {
		item, err := batchItem(entry, op)
		if err != nil {
			return nil, &core.ValidationError{Field: fmt.Sprintf("input[%d]", i), Detail: err.Error()}
		}
		items = append(items, item)
	}
	return items, nil
}

func batchItem(entry any, op core.Operation) (core.BatchItem, error) {
	switch v := entry.(type) {
	case string:
		if op != core.OperationDelete {
			return core.BatchItem{}, fmt.Errorf("a bare record id is only valid for delete")
		}
		return core.BatchItem{ID: v}, nil
	case map[string]any:
		if fields, ok := v["fields"]; ok {
			m, isMap := fields.(map[string]any)
			if !isMap {
				return core.BatchItem{}, fmt.Errorf("fields must be an object")
			}
			id, err := entryID(v)
			if err != nil {
				return core.BatchItem{}, err
			}
			return core.BatchItem{ID: id, Fields: core.Fields(m)}, nil
		}

		// Flat entries: "id" is never a field. Update and delete take the
		// record id from it, creates and upserts drop it.
		item := core.BatchItem{}
		flat := make(core.Fields, len(v))
		for key, value := range v {
			if key != "id" {
				flat[key] = value
			}
		}
		if op == core.OperationUpdate || op == core.OperationDelete {
			id, err := entryID(v)
			if err != nil {
				return core.BatchItem{}, err
			}
			item.ID = id
		}
		if op != core.OperationDelete {
			item.Fields = flat
		}
		return item, nil
	default:
		return core.BatchItem{}, fmt.Errorf("unsupported entry of type %T", entry)
	}
}

func entryID(entry map[string]any) (string, error) {
	id, ok := entry["id"]
	if !ok || id == nil {
		return "", nil
	}
	text, isString := id.(string)
	if !isString {
		return "", fmt.Errorf("id must be a string")
	}
	return text, nil
}

// candidates drops ids for an upsert, which matches on field values.
func candidates(items []core.BatchItem) []core.Fields {
	out := make([]core.Fields, 0, len(items))
	for _, item := range items {
		out = append(out, item.Fields)
	}
	return out
}
