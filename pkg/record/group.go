package record

// RecordGroups maps file group keys to the ordered records destined for them.
// Go maps do not preserve insertion order, so first-sight key order is kept in
// a side slice: group dispatch order (and therefore write status order) stays
// deterministic for a given input batch.
//
// Within a group, record order equals the records' relative order in the
// input batch. Merge-on-read resolves duplicate keys within one log by
// last-write-wins, so arrival order must survive grouping.
type RecordGroups struct {
	groups map[FileGroupKey][]Record
	order  []FileGroupKey
}

// NewRecordGroups returns an empty group set.
func NewRecordGroups() *RecordGroups {
	return &RecordGroups{groups: make(map[FileGroupKey][]Record)}
}

// Append adds rec to the group for key, creating the group on first sight.
func (g *RecordGroups) Append(key FileGroupKey, rec Record) {
	if _, ok := g.groups[key]; !ok {
		g.order = append(g.order, key)
	}
	g.groups[key] = append(g.groups[key], rec)
}

// Keys returns the group keys in first-sight order.
func (g *RecordGroups) Keys() []FileGroupKey {
	return g.order
}

// Get returns the ordered records for key, nil if the group does not exist.
func (g *RecordGroups) Get(key FileGroupKey) []Record {
	return g.groups[key]
}

// Len returns the number of groups.
func (g *RecordGroups) Len() int {
	return len(g.order)
}

// Records returns the total number of records across all groups.
func (g *RecordGroups) Records() int {
	n := 0
	for _, recs := range g.groups {
		n += len(recs)
	}
	return n
}

// InsertSet holds the records with no known location. Order among them is not
// significant; the bulk loader is free to regroup them.
type InsertSet []Record
