// Package negotiation implements the bilateral bargaining engine. It contains
// the utility and fairness mathematics, the opponent belief model, the
// concession strategy, the decision explainer, and the round loop that drives
// two agents toward a price-quantity agreement. The package is pure: it
// performs no I/O and owns no shared state, so independent negotiations can
// run concurrently without coordination.
package negotiation
