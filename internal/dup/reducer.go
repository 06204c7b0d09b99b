package dup

import "github.com/dupidx/dupidx/internal/types"

// matchReducer accumulates one candidate directory's child verdicts while
// the aggregation recurses. It is threaded by value: every child folds into
// a fresh accumulator, never a shared mutable object.
//
// The reducer starts with all six agreement flags true and ANDs in each
// matched child's flags while summing duplicated size and items. Two
// propagation flags record whether any child broke identity or coverage;
// a third records an analyzed child with no match under this candidate.
type matchReducer struct {
	agreement    types.MetaAgreement
	dupSize      int64
	dupItems     int64
	nonIdentical bool
	nonSuperset  bool
	missing      bool
}

func newMatchReducer() matchReducer {
	return matchReducer{agreement: types.FullAgreement()}
}

// withMatch folds one matched child into the accumulator.
func (r matchReducer) withMatch(m types.DuplicateMatch) matchReducer {
	r.agreement = r.agreement.And(m.Agreement)
	r.dupSize += m.DuplicatedSize
	r.dupItems += m.DuplicatedItems
	if !m.Identical {
		r.nonIdentical = true
	}
	if !m.Superset {
		r.nonSuperset = true
	}
	return r
}

// withMissing records an analyzed child absent from the candidate.
func (r matchReducer) withMissing() matchReducer {
	r.missing = true
	return r
}

// finish computes the directory's own verdict. identical requires no
// missing or extra immediate children, no non-identical child, and
// rule-selected metadata agreement at the directory level itself. superset
// tolerates extra candidate children but still requires full coverage of
// the analyzed side, making it strictly weaker than identical.
func (r matchReducer) finish(dirAgreement types.MetaAgreement, rule types.MatchRule, extraChildren bool) (identical, superset bool, agreement types.MetaAgreement) {
	metaOK := dirAgreement.Satisfies(rule)
	identical = !r.missing && !extraChildren && !r.nonIdentical && metaOK
	superset = !r.missing && !r.nonSuperset && metaOK
	return identical, superset, r.agreement.And(dirAgreement)
}
