package compiler

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"

	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/teg"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

// CompileGraph parses a CUE effect graph declaration into a TEG.
//
//	graph: transfer: {
//		resources: alice: {type: "account", domain: "D1", state: {balance: 100}}
//		effects: {
//			debit: {type: "write", domain: "D1", access: {alice: "write"}, params: {amount: 10}}
//			notify: {type: "call", domain: "D1", after: ["debit"]}
//		}
//		continuations: [{from: "debit", to: "notify", when: "params.amount > 0"}]
//		constraints: [{source: "debit", target: "notify", kind: "within", min: "0s", max: "5s"}]
//	}
//
// Effects are added in declaration order. Numbers must be integers.
func CompileGraph(v cue.Value) (*teg.Graph, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	b := teg.NewBuilder()
	if labels := v.Path().Selectors(); len(labels) > 0 {
		b.Metadata("name", labels[len(labels)-1].String())
	}

	if rs := v.LookupPath(cue.ParsePath("resources")); rs.Exists() {
		iter, err := rs.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			if err := compileResource(b, iter.Label(), iter.Value()); err != nil {
				return nil, err
			}
		}
	}

	es := v.LookupPath(cue.ParsePath("effects"))
	if !es.Exists() {
		return nil, fieldError("effects", v.Pos(), "at least one effect is required")
	}
	iter, err := es.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	n := 0
	for iter.Next() {
		if err := compileEffect(b, iter.Label(), iter.Value()); err != nil {
			return nil, err
		}
		n++
	}
	if n == 0 {
		return nil, fieldError("effects", es.Pos(), "at least one effect is required")
	}

	if err := eachListItem(v, "continuations", func(item cue.Value) error {
		from, err := requiredString(item, "from")
		if err != nil {
			return prefixField(err, "continuations")
		}
		to, err := requiredString(item, "to")
		if err != nil {
			return prefixField(err, "continuations")
		}
		when := ""
		if w := item.LookupPath(cue.ParsePath("when")); w.Exists() {
			if when, err = w.String(); err != nil {
				return formatCUEError(err)
			}
			if _, err := teg.NewCondition(when); err != nil {
				return fieldError("continuations.when", w.Pos(), "%v", err)
			}
		}
		b.ContinuesTo(from, to, when)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachListItem(v, "constraints", func(item cue.Value) error {
		return compileConstraint(b, item)
	}); err != nil {
		return nil, err
	}

	return b.Build()
}

func compileResource(b *teg.Builder, name string, v cue.Value) error {
	field := "resources." + name
	typ, err := requiredString(v, "type")
	if err != nil {
		return prefixField(err, field)
	}
	domain, err := requiredString(v, "domain")
	if err != nil {
		return prefixField(err, field)
	}
	rb := b.Resource(name).Type(typ).Domain(ids.DomainFromName(domain))
	if s := v.LookupPath(cue.ParsePath("state")); s.Exists() {
		state, err := decodeValue(s, field+".state")
		if err != nil {
			return err
		}
		rb.State(state)
	}
	if err := eachStringField(v, "metadata", field, func(k, val string) { rb.Metadata(k, val) }); err != nil {
		return err
	}
	rb.Add()
	return nil
}

func compileEffect(b *teg.Builder, name string, v cue.Value) error {
	field := "effects." + name
	typ, err := requiredString(v, "type")
	if err != nil {
		return prefixField(err, field)
	}
	domain, err := requiredString(v, "domain")
	if err != nil {
		return prefixField(err, field)
	}
	eb := b.Effect(name).Type(typ).Domain(ids.DomainFromName(domain))

	if p := v.LookupPath(cue.ParsePath("params")); p.Exists() {
		iter, err := p.Fields()
		if err != nil {
			return formatCUEError(err)
		}
		for iter.Next() {
			val, err := decodeValue(iter.Value(), field+".params."+iter.Label())
			if err != nil {
				return err
			}
			eb.Param(iter.Label(), val)
		}
	}
	var badMode error
	if err := eachStringField(v, "access", field, func(res, mode string) {
		m, ok := accessModes[mode]
		if !ok {
			if badMode == nil {
				badMode = fieldError(field+".access."+res, v.Pos(), "unknown access mode %q", mode)
			}
			return
		}
		eb.Access(res, m)
	}); err != nil {
		return err
	}
	if badMode != nil {
		return badMode
	}
	if c := v.LookupPath(cue.ParsePath("capability")); c.Exists() {
		capability, err := c.String()
		if err != nil {
			return formatCUEError(err)
		}
		eb.RequireCapability(capability)
	}
	if r := v.LookupPath(cue.ParsePath("return_type")); r.Exists() {
		rt, err := r.String()
		if err != nil {
			return formatCUEError(err)
		}
		eb.ReturnType(rt)
	}
	if err := eachStringField(v, "metadata", field, func(k, val string) { eb.Metadata(k, val) }); err != nil {
		return err
	}
	eb.Add()

	return eachListItem(v, "after", func(item cue.Value) error {
		dep, err := item.String()
		if err != nil {
			return formatCUEError(err)
		}
		b.DependsOn(name, dep)
		return nil
	})
}

var accessModes = map[string]teg.AccessMode{
	teg.AccessRead.String():   teg.AccessRead,
	teg.AccessWrite.String():  teg.AccessWrite,
	teg.AccessCreate.String(): teg.AccessCreate,
	teg.AccessDelete.String(): teg.AccessDelete,
}

var constraintKinds = map[string]teg.ConstraintKind{
	teg.Before.String(): teg.Before,
	teg.After.String():  teg.After,
	teg.Within.String(): teg.Within,
}

func compileConstraint(b *teg.Builder, item cue.Value) error {
	const field = "constraints"
	source, err := requiredString(item, "source")
	if err != nil {
		return prefixField(err, field)
	}
	target, err := requiredString(item, "target")
	if err != nil {
		return prefixField(err, field)
	}
	kindStr, err := requiredString(item, "kind")
	if err != nil {
		return prefixField(err, field)
	}
	kind, ok := constraintKinds[kindStr]
	if !ok {
		return fieldError(field+".kind", item.Pos(), "unknown constraint kind %q", kindStr)
	}
	var bounds [2]time.Duration
	for i, name := range []string{"min", "max"} {
		f := item.LookupPath(cue.ParsePath(name))
		if !f.Exists() {
			continue
		}
		raw, err := f.String()
		if err != nil {
			return formatCUEError(err)
		}
		if bounds[i], err = time.ParseDuration(raw); err != nil {
			return fieldError(field+"."+name, f.Pos(), "invalid duration %q", raw)
		}
	}
	b.TemporalConstraint(source, target, kind, bounds[0], bounds[1])
	return nil
}

// decodeValue converts a concrete CUE value to a value.Value. Floats are
// rejected.
func decodeValue(v cue.Value, field string) (value.Value, error) {
	switch v.IncompleteKind() {
	case cue.FloatKind, cue.NumberKind:
		if _, err := v.Int64(); err != nil {
			return nil, fieldError(field, v.Pos(), "float values are forbidden, use int instead")
		}
	}
	var native any
	if err := v.Decode(&native); err != nil {
		return nil, formatCUEError(err)
	}
	out, err := value.FromNative(native)
	if err != nil {
		return nil, fieldError(field, v.Pos(), "%v", err)
	}
	return out, nil
}

func eachListItem(v cue.Value, field string, fn func(cue.Value) error) error {
	l := v.LookupPath(cue.ParsePath(field))
	if !l.Exists() {
		return nil
	}
	iter, err := l.List()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func eachStringField(v cue.Value, field, parent string, fn func(k, val string)) error {
	m := v.LookupPath(cue.ParsePath(field))
	if !m.Exists() {
		return nil
	}
	iter, err := m.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return fieldError(fmt.Sprintf("%s.%s.%s", parent, field, iter.Label()), iter.Value().Pos(), "must be a string")
		}
		fn(iter.Label(), s)
	}
	return nil
}
