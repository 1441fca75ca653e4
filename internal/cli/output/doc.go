// Package output renders CLI results as a table, JSON, JSON Lines or YAML.
//
// Table output reads struct field tags: the json tag names a column and
// a table tag of "-" hides it or "wide" shows it only with --wide.
package output
