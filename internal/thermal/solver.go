package thermal

import (
	"context"

	"github.com/rcliao/dm21cm/internal/background"
)

// RecInput is everything a recombination solver receives: the expansion
// history (cosmology, helium fraction and neutrino masses included) and the
// injection source terms.
type RecInput struct {
	Background *background.Background
	Rates      *SourceRates
}

// History is a solved ionization and thermal history.
type History interface {
	// Xe is the free-electron fraction n_e/n_H at scale factor a.
	Xe(a float64) float64
	// Tm is the matter temperature in kelvin at scale factor a.
	Tm(a float64) float64
}

// Solver computes the ionization and thermal history under injection.
type Solver interface {
	Solve(ctx context.Context, in RecInput) (History, error)
}

