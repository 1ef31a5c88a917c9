package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unijord/mortable/pkg/bulkload"
	"github.com/unijord/mortable/pkg/commit"
	"github.com/unijord/mortable/pkg/deltalog"
	"github.com/unijord/mortable/pkg/index"
	"github.com/unijord/mortable/pkg/record"
	"github.com/unijord/mortable/pkg/schema"
	"github.com/unijord/mortable/pkg/timeline"
)

// batchRecord is the on-file shape of one record in a commit batch.
type batchRecord struct {
	Key       string          `json:"key"`
	Partition string          `json:"partition"`
	FileGroup string          `json:"file_group,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

var commitCmd = &cobra.Command{
	Use:   "commit <batch.json>",
	Short: "execute one upsert commit from a JSON batch file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommit(cmd.Context(), args[0])
	},
}

func init() {
	flags := commitCmd.Flags()
	flags.String("instant", "", "instant id to commit under; generated when empty")
	flags.String("writer-id", "", "writer identity stamped on the timeline; generated when empty")
	flags.Int("concurrency", 0, "max concurrent write tasks; defaults to GOMAXPROCS")
	flags.Bool("fail-fast", false, "cancel sibling write tasks on the first fatal fault")
	flags.String("schema-file", "", "JSON schema file validating record payloads")
	flags.Int("bulk-max-records", 0, "max records per bulk-created file group; 0 uses the default")

	rootCmd.AddCommand(commitCmd)
}

func runCommit(ctx context.Context, batchPath string) error {
	tableDir := viper.GetString("table-dir")

	batch, err := readBatch(batchPath)
	if err != nil {
		return err
	}

	store, err := timeline.OpenBoltStore(filepath.Join(tableDir, "timeline.db"))
	if err != nil {
		return fmt.Errorf("open timeline: %w", err)
	}
	defer store.Close()

	var tlOpts []timeline.Option
	if id := viper.GetString("writer-id"); id != "" {
		tlOpts = append(tlOpts, timeline.WithWriterID(id))
	}
	tl := timeline.NewManager(store, tlOpts...)

	validator, err := loadValidator()
	if err != nil {
		return err
	}

	segments := deltalog.NewWriter(tableDir, deltalog.WithValidator(validator))

	loaderOpts := []bulkload.LoaderOption{bulkload.WithValidator(validator)}
	if max := viper.GetInt("bulk-max-records"); max > 0 {
		policy := bulkload.DefaultCapacityPolicy()
		policy.MaxRecords = max
		loaderOpts = append(loaderOpts, bulkload.WithSizingPolicy(policy))
	}
	loader := bulkload.NewLoader(tableDir, loaderOpts...)

	idx := index.NewShardedIndex()

	engineOpts := []commit.Option{
		commit.WithFailFast(viper.GetBool("fail-fast")),
	}
	if n := viper.GetInt("concurrency"); n > 0 {
		engineOpts = append(engineOpts, commit.WithWorkerConcurrency(n))
	}
	engine := commit.NewEngine(tl, segments, loader, idx, engineOpts...)

	instant := timeline.Instant(viper.GetString("instant"))
	if instant == "" {
		instant = timeline.NewInstant()
	}
	if err := tl.Request(instant); err != nil {
		return err
	}

	result, err := engine.Upsert(ctx, instant, batch)
	if err != nil {
		return err
	}

	slog.Info("commit finished",
		"instant", instant.String(),
		"file_groups", len(result.Statuses),
		"written", result.TotalWritten(),
		"rejected", result.TotalFailed())

	for _, status := range result.Statuses {
		fmt.Printf("%s\t%s\t%d written\t%d rejected\t%d bytes\n",
			status.Kind.String(), status.Target.String(), status.NumWritten(), status.NumFailed(), status.Bytes)
	}
	return nil
}

func readBatch(path string) ([]record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}

	var raw []batchRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}

	batch := make([]record.Record, 0, len(raw))
	for i, r := range raw {
		if r.Key == "" {
			return nil, fmt.Errorf("decode batch: record %d has no key", i)
		}
		rec := record.Record{Key: r.Key, PartitionPath: r.Partition, Payload: r.Payload}
		if r.FileGroup != "" {
			rec.Location = &record.FileGroupKey{FileGroupID: r.FileGroup, PartitionPath: r.Partition}
		}
		batch = append(batch, rec)
	}
	return batch, nil
}

func loadValidator() (schema.Validator, error) {
	path := viper.GetString("schema-file")
	if path == "" {
		return schema.NoopValidator{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return schema.NewJSONValidator(string(data))
}
