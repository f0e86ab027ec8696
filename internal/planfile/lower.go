package planfile

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/vplan/internal/ir"
	"github.com/tinyrange/vplan/internal/vplan"
)

// LowerOptions control one lowering of a loaded plan.
type LowerOptions struct {
	VF ir.ElementCount
	UF int

	NativePath       bool
	ProfileDebugInfo bool

	// Logger receives debug output of the lowering. Nil means slog.Default.
	Logger *slog.Logger
}

// Lower emits the vector loop of l into l.Func, entered from l.Preheader.
// A Loaded is lowered at most once.
func (l *Loaded) Lower(opts LowerOptions) error {
	if opts.VF.Min < 1 {
		return fmt.Errorf("lower %s: invalid vector width %s", l.Name, opts.VF)
	}
	if opts.UF < 1 {
		return fmt.Errorf("lower %s: invalid unroll count %d", l.Name, opts.UF)
	}

	s := vplan.NewState(opts.VF, opts.UF, ir.NewBuilder(l.Func))
	s.CFG.PrevBB = l.Preheader
	s.NativePath = opts.NativePath
	s.ProfileDebugInfo = opts.ProfileDebugInfo
	if opts.Logger != nil {
		s.Logger = opts.Logger
	}
	for _, r := range l.MayGeneratePoison {
		s.MayGeneratePoison[r] = true
	}
	if err := l.Plan.Execute(s); err != nil {
		return fmt.Errorf("lower %s: %w", l.Name, err)
	}
	return nil
}
