// Package refine repeats a stochastic fit and keeps the best attempt.
//
// Every attempt runs in its own scratch directory. Its RMSD is read from a
// fixed position in the fit log; an attempt strictly better than the best
// so far replaces the best directory, any other attempt is deleted. An
// attempt whose log does not parse is discarded and never becomes best.
package refine
