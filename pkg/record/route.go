package record

// Route partitions a prepped batch into per-file-group update groups and the
// set of fresh inserts. Single pass, O(n), deterministic for a deterministic
// input order: every record lands in exactly one group or the insert set, a
// group's key always equals the Location of every record it holds, and record
// order within a group follows the batch.
func Route(batch []Record) (*RecordGroups, InsertSet) {
	groups := NewRecordGroups()
	var inserts InsertSet

	for _, rec := range batch {
		if !rec.HasKnownLocation() {
			inserts = append(inserts, rec)
			continue
		}
		groups.Append(*rec.Location, rec)
	}

	return groups, inserts
}
