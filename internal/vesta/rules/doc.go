// Package rules holds the device state machines.  Every function here is a
// pure function of (current state, event) returning the next state and the
// effects the caller must apply; nothing is persisted or sent from here.
package rules
