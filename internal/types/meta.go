package types

// ItemMeta holds the filesystem metadata fields a MatchRule can select.
// Sampled with lstat so symlinks describe themselves, not their targets.
type ItemMeta struct {
	MTimeNS int64
	ATimeNS int64
	CTimeNS int64
	Mode    uint32 // permission bits only
	UID     uint32
	GID     uint32
}

// MatchRule selects which metadata fields must agree for two content-equal
// items to be considered identical. Immutable; two rules are equal iff all
// six flags agree.
type MatchRule struct {
	MTime bool `toml:"mtime"`
	ATime bool `toml:"atime"`
	CTime bool `toml:"ctime"`
	Mode  bool `toml:"mode"`
	UID   bool `toml:"uid"`
	GID   bool `toml:"gid"`
}

// DefaultMatchRule requires modification time and permission bits to agree.
// Access and change times churn on read-only operations and ownership rarely
// survives a copy, so those default off.
func DefaultMatchRule() MatchRule { return MatchRule{MTime: true, Mode: true} }

// MetaAgreement records, per metadata field, whether two items agreed.
type MetaAgreement struct {
	MTime bool
	ATime bool
	CTime bool
	Mode  bool
	UID   bool
	GID   bool
}

// FullAgreement has every field agreeing. It is the identity element of And
// and the reducer's starting accumulator.
func FullAgreement() MetaAgreement {
	return MetaAgreement{MTime: true, ATime: true, CTime: true, Mode: true, UID: true, GID: true}
}

// CompareMeta computes the field-by-field agreement of two metadata samples.
func CompareMeta(a, b ItemMeta) MetaAgreement {
	return MetaAgreement{
		MTime: a.MTimeNS == b.MTimeNS,
		ATime: a.ATimeNS == b.ATimeNS,
		CTime: a.CTimeNS == b.CTimeNS,
		Mode:  a.Mode == b.Mode,
		UID:   a.UID == b.UID,
		GID:   a.GID == b.GID,
	}
}

// And combines two agreements field-wise.
func (m MetaAgreement) And(o MetaAgreement) MetaAgreement {
	return MetaAgreement{
		MTime: m.MTime && o.MTime,
		ATime: m.ATime && o.ATime,
		CTime: m.CTime && o.CTime,
		Mode:  m.Mode && o.Mode,
		UID:   m.UID && o.UID,
		GID:   m.GID && o.GID,
	}
}

// Satisfies reports whether every field the rule selects agreed. Fields the
// rule does not select never affect the verdict.
func (m MetaAgreement) Satisfies(r MatchRule) bool {
	if r.MTime && !m.MTime {
		return false
	}
	if r.ATime && !m.ATime {
		return false
	}
	if r.CTime && !m.CTime {
		return false
	}
	if r.Mode && !m.Mode {
		return false
	}
	if r.UID && !m.UID {
		return false
	}
	if r.GID && !m.GID {
		return false
	}
	return true
}
