// Package census models the 2016 Census Profile data the pipeline works with:
// SafeGraph geographic unit identifiers, the dissemination-geography profile
// ids derived from them, cached profile tables, and the indicator crosswalk
// used to flatten a profile into one row of the combined dataset.
package census
