// Package sweep finds live instances by walking the object graph reachable
// from a set of root values.
//
// A Sweeper classifies every value it meets into a Kind and recurses
// accordingly: sequences and sets by element, mappings by value, interfaces
// by their dynamic value, structs by field. Pointers are object references:
// each distinct one is visited once per sweep, handed to the Task, walked
// field by field (embedded ancestors included), and finally given a chance to
// report children reflection cannot see through Traverser.
package sweep
