package types

// DuplicateMatch is the verdict for one repository candidate path matched
// against an analyzed path. DuplicatedSize and DuplicatedItems are local to
// this candidate: an analyzed item matched by several candidates contributes
// to each candidate's match independently.
type DuplicateMatch struct {
	Path            string // repository-relative candidate path
	Agreement       MetaAgreement
	DuplicatedSize  int64
	DuplicatedItems int64
	Identical       bool
	Superset        bool
	Rule            MatchRule
}

// DuplicateRecord is the persisted result of analyzing one path against the
// repository. TotalSize and TotalItems describe the analyzed content itself;
// DuplicatedSize and DuplicatedItems count each analyzed item at most once
// regardless of how many candidates matched it. Immutable once written,
// until the next analysis of the same path.
type DuplicateRecord struct {
	Path            string // analyzed path, relative to the analysis root
	RepositoryID    string
	TotalSize       int64
	TotalItems      int64
	DuplicatedSize  int64
	DuplicatedItems int64
	Matches         []DuplicateMatch
}

// BestMatch returns the match with the strongest verdict: identical beats
// superset beats partial, ties broken by candidate path order. Returns nil
// when the record has no matches.
func (r *DuplicateRecord) BestMatch() *DuplicateMatch {
	var best *DuplicateMatch
	for i := range r.Matches {
		m := &r.Matches[i]
		if best == nil || rank(m) > rank(best) {
			best = m
		}
	}
	return best
}

func rank(m *DuplicateMatch) int {
	switch {
	case m.Identical:
		return 2
	case m.Superset:
		return 1
	default:
		return 0
	}
}
