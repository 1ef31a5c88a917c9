package commit

import (
	"github.com/unijord/mortable/pkg/record"
	"github.com/unijord/mortable/pkg/timeline"
)

// aggregate joins per-task statuses into one CommitResult: append statuses in
// group-dispatch order first, bulk-insert statuses after. Tasks that died
// before producing a status contribute nothing. Success reflects fatal
// failures only; per-record failures recorded inside a status never flip it.
func aggregate(appendStatuses []*record.WriteStatus, bulkStatuses []record.WriteStatus, fatal bool) record.CommitResult {
	statuses := make([]record.WriteStatus, 0, len(appendStatuses)+len(bulkStatuses))
	for _, s := range appendStatuses {
		if s != nil {
			statuses = append(statuses, *s)
		}
	}
	statuses = append(statuses, bulkStatuses...)

	return record.CommitResult{
		Statuses: statuses,
		Success:  !fatal,
	}
}

// commitMetadata condenses a CommitResult into the metadata persisted on the
// timeline when the instant completes.
func commitMetadata(result record.CommitResult) timeline.CommitMetadata {
	meta := timeline.CommitMetadata{
		Statuses:     make([]timeline.StatusMetadata, 0, len(result.Statuses)),
		TotalWritten: result.TotalWritten(),
		TotalFailed:  result.TotalFailed(),
	}
	for _, s := range result.Statuses {
		meta.Statuses = append(meta.Statuses, timeline.StatusMetadata{
			FileGroupID:   s.Target.FileGroupID,
			PartitionPath: s.Target.PartitionPath,
			Kind:          s.Kind.String(),
			Written:       s.NumWritten(),
			Failed:        s.NumFailed(),
			Bytes:         s.Bytes,
		})
	}
	return meta
}
