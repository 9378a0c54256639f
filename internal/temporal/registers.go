package temporal

import (
	"github.com/timewave-computer/causality-sub006/internal/ids"
	"github.com/timewave-computer/causality-sub006/internal/lifecycle"
)

// Registers reads live states from a lifecycle manager, treating each
// resource ID as the register ID of the same bytes.
type Registers struct {
	*lifecycle.Manager
}

// CurrentState implements StateReader.
func (r Registers) CurrentState(resource ids.ResourceID) (lifecycle.State, ids.DomainID, error) {
	reg, err := r.GetRegister(ids.RegisterID(resource))
	if err != nil {
		return 0, ids.DomainID{}, err
	}
	return reg.State, reg.Domain, nil
}

// Resources lists every register in m as a resource ID.
func Resources(m *lifecycle.Manager) []ids.ResourceID {
	regs := m.All()
	out := make([]ids.ResourceID, len(regs))
	for i, reg := range regs {
		out[i] = ids.ResourceID(reg.ID)
	}
	return out
}
