package model

// AffiliationRecord is one enriched result: the resolved author name, the
// paper pairing it came from, and the affiliation string the lookup reported.
// The struct is comparable; the result set treats structural equality of all
// four fields as record identity.
type AffiliationRecord struct {
	AuthorName  string `json:"author_name"`
	CitingPaper string `json:"citing_paper"`
	CitedPaper  string `json:"cited_paper"`
	Affiliation string `json:"affiliation"`
}

// Sentinel reports whether the record is the canonical no-author record.
func (r AffiliationRecord) Sentinel() bool {
	return r.AuthorName == NoAuthorFound
}

// SentinelRecord returns the canonical record for a no-author work item.
func SentinelRecord(item WorkItem) AffiliationRecord {
	return AffiliationRecord{
		AuthorName:  NoAuthorFound,
		CitingPaper: item.CitingPaper,
		CitedPaper:  item.CitedPaper,
		Affiliation: NoAuthorFound,
	}
}

// DedupeRecords removes structurally equal duplicates, keeping the first
// occurrence and preserving order.
func DedupeRecords(records []AffiliationRecord) []AffiliationRecord {
	seen := make(map[AffiliationRecord]struct{}, len(records))
	out := records[:0:0]
	for _, r := range records {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
