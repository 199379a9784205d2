// Package forms is the dynamic field schema and response engine.
//
// A Builder edits and persists the ordered field definitions of a task. An
// Interpreter turns those definitions into an arena of addressable input slots,
// expands repeating groups from the value of their count field, gates
// submission on Evaluate and hands the values to MapResponses, which produces
// the typed response records stored through a storage.ResponseStore.
package forms
