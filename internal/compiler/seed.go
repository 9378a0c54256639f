package compiler

import (
	"cuelang.org/go/cue"

	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

// SeedDecl is initial resource state declared next to relationships.
type SeedDecl struct {
	Name     string
	Domain   ids.DomainID
	Resource ids.ResourceID
	Data     value.Value
}

// CompileSeed parses a resource state declaration:
//
//	state: alice: {domain: "D1", resource: "R_src", data: {balance: 100}}
func CompileSeed(v cue.Value) (*SeedDecl, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	decl := &SeedDecl{}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		decl.Name = labels[len(labels)-1].String()
	}
	domain, err := requiredString(v, "domain")
	if err != nil {
		return nil, err
	}
	res, err := requiredString(v, "resource")
	if err != nil {
		return nil, err
	}
	decl.Domain = ids.DomainFromName(domain)
	decl.Resource = ids.ResourceFromName(decl.Domain, res)

	data := v.LookupPath(cue.ParsePath("data"))
	if !data.Exists() {
		return nil, fieldError("data", v.Pos(), "data is required")
	}
	if decl.Data, err = decodeValue(data, "data"); err != nil {
		return nil, err
	}
	return decl, nil
}
