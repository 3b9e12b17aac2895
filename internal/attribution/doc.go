// Package attribution decides which leaf places receive an extracted event.
//
// A master's page may describe events for all of its branches, for a single
// branch the fetch was parameterized for, or for branches named in the text.
// Each case is a Resolver; a Selector picks one per master from ordered rules
// on the master's category and name.
package attribution
