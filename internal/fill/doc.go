// Package fill drives the energy ledger to completion.
//
// A Runner enumerates the pending records of one model, asks a Calculator
// for every missing subset energy and writes each result to the ledger as
// soon as it arrives. A calculation failure marks its record failed and the
// run moves on; a ledger error or cancellation stops the run. Because all
// progress lives in the ledger, an interrupted run is resumed by running
// again.
package fill
