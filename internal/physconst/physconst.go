// Package physconst holds the physical and cosmological constants used across
// the pipeline. Everything is SI unless the name says otherwise; temperatures
// named T* are energies (kB·T) in joules.
package physconst

import "math"

// Lengths and times.
const (
	Km  = 1e3
	Cm  = 1e-2
	Pc  = 3.085675e16
	Mpc = 1e6 * Pc
	Yr  = 3.1557600e7
	Gyr = 1e9 * Yr
)

// Physical constants.
const (
	C       = 2.99792458e8     // speed of light [m/s]
	Hbar    = 1.054571817e-34  // reduced Planck constant [J s]
	Me      = 9.1093837015e-31 // electron mass [kg]
	Mp      = 1.67262192369e-27
	MH      = 1.6735575e-27 // hydrogen atom mass [kg]
	MHe     = 6.6464764e-27 // helium-4 atom mass [kg]
	SigmaT  = 6.6524587158e-29
	G       = 6.67430e-11
	KB      = 1.38064852e-23 // [J/K]
	EV      = 1.602176634e-19
	GeV     = 1e9 * EV
	AlphaEM = 0.0072973525693
)

// Atomic hydrogen.
const (
	Ry                   = 0.5 * AlphaEM * AlphaEM * Me * C * C
	VH                   = Ry * Mp / (Me + Mp) // hydrogen ionization energy [J]
	F21cm                = 1420.40575e6        // [1/s]
	A10                  = 2.869e-15           // 21-cm spontaneous emission rate [1/s]
	Lambda2s1s           = 8.2245809           // two-photon 2s→1s rate [1/s]
	LymanAlphaWavelength = 121.567e-9          // [m]
)

// E21cm is the 21-cm transition energy h·ν [J].
var E21cm = 2 * math.Pi * Hbar * F21cm

// TStar21cm is the 21-cm transition expressed as a temperature [K].
var TStar21cm = E21cm / KB

// Cosmological units.
const (
	BigH   = 100 * Km / Mpc // H0/h [1/s]
	TCMBK  = 2.7255         // [K]
	TCMB   = TCMBK * KB
	NNuStd = 3.046
)

// RhoCH2 is the critical energy density divided by h² [J/m³].
var RhoCH2 = 3 * (C * BigH) * (C * BigH) / (8 * math.Pi * G)

// TCNuB is the relic-neutrino temperature as an energy [J].
var TCNuB = TCMB * math.Cbrt(4.0/11.0)

// Massive-neutrino normalisations: ratio of the relativistic Fermi–Dirac
// energy integral and of the number integral to the massless energy integral.
var (
	NuEnergy = 120.0 / 7.0 / math.Pow(math.Pi, 4)
	NuNumber = 180.0 * zeta3 / 7.0 / math.Pow(math.Pi, 4)
)

const zeta3 = 1.2020569031595942

// Squared-mass splittings [eV²].
const (
	M2Nu21 = 7.39e-5
	M2Nu32 = 2.45e-3
)
