package compiler

import (
	"time"

	"cuelang.org/go/cue"

	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/relationship"
)

// RelationshipDecl is one compiled relationship declaration.
type RelationshipDecl struct {
	// Name is the declaration's label.
	Name         string
	Relationship *relationship.Relationship

	// Script is the JavaScript transform of a derived relationship, if any.
	Script string
}

// CompileRelationship parses a CUE value into a relationship declaration.
//
// The value should be the declaration struct itself, e.g.:
//
//	relationship: balance_mirror: {
//		kind: "mirror"
//		source: {domain: "D1", resource: "R_src"}
//		target: {domain: "D2", resource: "R_tgt"}
//		sync: {mode: "periodic", interval: "60s"}
//		metadata: {tier: "gold"}
//	}
//
// Domains and resources are names; ids are derived with DomainFromName and
// ResourceFromName. A sync block marks the relationship as requiring sync.
func CompileRelationship(v cue.Value) (*RelationshipDecl, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	decl := &RelationshipDecl{}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		decl.Name = labels[len(labels)-1].String()
	}

	kindStr, err := requiredString(v, "kind")
	if err != nil {
		return nil, err
	}
	kind, err := relationship.ParseKind(kindStr)
	if err != nil {
		return nil, fieldError("kind", v.LookupPath(cue.ParsePath("kind")).Pos(), "unknown relationship kind %q", kindStr)
	}

	srcDomain, srcRes, err := endpoint(v, "source")
	if err != nil {
		return nil, err
	}
	tgtDomain, tgtRes, err := endpoint(v, "target")
	if err != nil {
		return nil, err
	}

	var opts []relationship.Option
	if b := v.LookupPath(cue.ParsePath("bidirectional")); b.Exists() {
		bidi, err := b.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if bidi {
			opts = append(opts, relationship.WithBidirectional())
		}
	}

	if s := v.LookupPath(cue.ParsePath("sync")); s.Exists() {
		strategy, err := compileStrategy(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, relationship.WithSync(strategy))
	}

	if m := v.LookupPath(cue.ParsePath("metadata")); m.Exists() {
		iter, err := m.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			val, err := iter.Value().String()
			if err != nil {
				return nil, fieldError("metadata."+iter.Label(), iter.Value().Pos(), "metadata values must be strings")
			}
			opts = append(opts, relationship.WithExtra(iter.Label(), val))
		}
	}

	if s := v.LookupPath(cue.ParsePath("script")); s.Exists() {
		if kind != relationship.Derived {
			return nil, fieldError("script", s.Pos(), "script is only valid on derived relationships")
		}
		if decl.Script, err = s.String(); err != nil {
			return nil, formatCUEError(err)
		}
		if _, err := relationship.ScriptTransform(decl.Script); err != nil {
			return nil, fieldError("script", s.Pos(), "%v", err)
		}
	}

	decl.Relationship = relationship.New(srcDomain, srcRes, tgtDomain, tgtRes, kind, opts...)
	return decl, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", fieldError(field, v.Pos(), "%s is required", field)
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if s == "" {
		return "", fieldError(field, f.Pos(), "%s must not be empty", field)
	}
	return s, nil
}

func endpoint(v cue.Value, field string) (ids.DomainID, ids.ResourceID, error) {
	e := v.LookupPath(cue.ParsePath(field))
	if !e.Exists() {
		return ids.DomainID{}, ids.ResourceID{}, fieldError(field, v.Pos(), "%s is required", field)
	}
	domain, err := requiredString(e, "domain")
	if err != nil {
		return ids.DomainID{}, ids.ResourceID{}, prefixField(err, field)
	}
	res, err := requiredString(e, "resource")
	if err != nil {
		return ids.DomainID{}, ids.ResourceID{}, prefixField(err, field)
	}
	d := ids.DomainFromName(domain)
	return d, ids.ResourceFromName(d, res), nil
}

func prefixField(err error, prefix string) error {
	if ce, ok := err.(*CompileError); ok && ce.Field != "cue" {
		cp := *ce
		cp.Field = prefix + "." + ce.Field
		return &cp
	}
	return err
}

func compileStrategy(s cue.Value) (relationship.SyncStrategy, error) {
	modeStr, err := requiredString(s, "mode")
	if err != nil {
		return relationship.SyncStrategy{}, prefixField(err, "sync")
	}
	mode, err := relationship.ParseMode(modeStr)
	if err != nil {
		return relationship.SyncStrategy{}, fieldError("sync.mode", s.LookupPath(cue.ParsePath("mode")).Pos(), "unknown sync mode %q", modeStr)
	}
	var interval time.Duration
	if mode == relationship.Periodic || mode == relationship.Hybrid {
		raw, err := requiredString(s, "interval")
		if err != nil {
			return relationship.SyncStrategy{}, prefixField(err, "sync")
		}
		interval, err = time.ParseDuration(raw)
		if err != nil || interval <= 0 {
			return relationship.SyncStrategy{}, fieldError("sync.interval", s.LookupPath(cue.ParsePath("interval")).Pos(), "interval %q must be a positive duration", raw)
		}
	}
	return relationship.SyncStrategy{Mode: mode, Interval: interval}, nil
}
