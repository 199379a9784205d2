// Package jsonldb stores rows of one Go type in a JSON Lines file.
//
// A [Table] keeps every row in memory and hands out clones, so callers never
// alias cached state. Appends extend the file in place. [Table.Modify] holds
// the write lock across the whole read-modify-write and rewrites the file
// through a temporary file and a rename.
package jsonldb
