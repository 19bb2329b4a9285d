// Package engine keeps a local placement board in sync with the placement backend.
//
// The board holds two collections: the candidates that are still unassigned and, for
// every host, the list of its assignments. Moves are applied locally first, then sent to
// the backend. A confirmed move gets its durable id; a failed one triggers a full reload
// of the board from the backend, which always wins over local optimistic state.
package engine
