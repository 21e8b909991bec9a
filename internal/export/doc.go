// Package export groups the optional destinations the combined indicator
// table is shipped to after it is written to the cache directory.
package export
