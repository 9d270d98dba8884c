package injection

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go-hep.org/x/hep/fmom"

	"github.com/rcliao/dm21cm/internal/model"
)

// ErrEventFailed is returned by EventStream.Next when one event could not
// be generated. The stream stays usable.
var ErrEventFailed = errors.New("event generation failed")

// Particle is a stable final-state particle. Momenta are in GeV.
type Particle struct {
	PDG int
	P   fmom.PxPyPzE
}

// Event is the final state of one generated event.
type Event struct {
	Particles []Particle
}

// Total is the summed four-momentum of the final state.
func (e Event) Total() fmom.PxPyPzE {
	var sum fmom.PxPyPzE
	for i := range e.Particles {
		fmom.IAdd(&sum, &e.Particles[i].P)
	}
	return sum
}

// Conserves reports whether the final state carries the four-momentum
// (0, 0, 0, ecm) of a resonance at rest, to within tol·ecm in both energy
// and three-momentum.
func (e Event) Conserves(ecm, tol float64) bool {
	sum := e.Total()
	return math.Abs(sum.E()-ecm) <= tol*ecm && sum.P() <= tol*ecm
}

// Request asks a generator for events of a resonance of energy ECMGeV
// decaying into Channel, whose final-state particle has PDG id PDG.
type Request struct {
	Channel model.Channel
	PDG     int
	ECMGeV  float64
	Events  int
	Seed    int64
}

// Generator produces final states for a two-body resonance decay.
type Generator interface {
	Generate(ctx context.Context, req Request) (EventStream, error)
}

// Identifier is implemented by generators that can name the backend they
// drive. The name is part of the spectrum cache key.
type Identifier interface {
	ID() string
}

// GeneratorID names g for cache keys: its ID when it has one, otherwise
// its Go type.
func GeneratorID(g Generator) string {
	if id, ok := g.(Identifier); ok {
		return id.ID()
	}
	return fmt.Sprintf("%T", g)
}

// EventStream yields events one at a time. Next returns io.EOF when the
// generator has no more events and ErrEventFailed for a failed event.
type EventStream interface {
	Next() (Event, error)
	Close() error
}

// Class is the species bucket a final-state particle is accumulated into.
type Class int

const (
	ClassPhoton Class = iota
	ClassElectron
	ClassProton
	ClassNeutrino
	ClassOther
)

func (c Class) String() string {
	switch c {
	case ClassPhoton:
		return "photon"
	case ClassElectron:
		return "electron"
	case ClassProton:
		return "proton"
	case ClassNeutrino:
		return "neutrino"
	}
	return "other"
}

// Classify maps a PDG id (either sign) to its species bucket.
func Classify(pdg int) Class {
	if pdg < 0 {
		pdg = -pdg
	}
	switch pdg {
	case 22:
		return ClassPhoton
	case 11:
		return ClassElectron
	case 2212:
		return ClassProton
	case 12, 14, 16:
		return ClassNeutrino
	}
	return ClassOther
}

func bucket(s *model.Spectrum, c Class) []float64 {
	switch c {
	case ClassPhoton:
		return s.Photon
	case ClassElectron:
		return s.Electron
	case ClassProton:
		return s.Proton
	case ClassNeutrino:
		return s.Neutrino
	}
	return s.Other
}
