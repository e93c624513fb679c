package strategy

// Portfolio rotates through a fixed list of strategies, one per iteration,
// propagating a shared seed's breadth across the whole run (spec.md §4.3
// "Portfolio mode"). The active strategy for the iteration in progress is
// exposed via Current so the Scheduler Core can report it in Settings.
type Portfolio struct {
	members []Strategy
	index   int
}

// NewPortfolio constructs a rotation over the given strategies, in order.
// members must be non-empty.
func NewPortfolio(members ...Strategy) *Portfolio {
	return &Portfolio{members: members}
}

func (p *Portfolio) Name() string { return "portfolio" }

// Current returns the strategy driving the iteration in progress.
func (p *Portfolio) Current() Strategy {
	return p.members[p.index]
}

func (p *Portfolio) NextOperation(history History, enabled []Enabled) OpID {
	return p.Current().NextOperation(history, enabled)
}

func (p *Portfolio) NextBoolean(history History) bool {
	return p.Current().NextBoolean(history)
}

func (p *Portfolio) NextInteger(history History, max int) int {
	return p.Current().NextInteger(history, max)
}

// PrepareNextIteration advances to the next member of the portfolio,
// wrapping around, and delegates to that member's own preparation. Testing
// stops only once every member reports it is done within the same pass.
func (p *Portfolio) PrepareNextIteration() bool {
	for range p.members {
		p.index = (p.index + 1) % len(p.members)
		if p.Current().PrepareNextIteration() {
			return true
		}
	}
	return false
}

func (p *Portfolio) IsFair() bool {
	return p.Current().IsFair()
}
