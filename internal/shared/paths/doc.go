// Package paths resolves the directories and filenames the tracer reads
// and writes.
//
// Every process instance that should observe the same traces must point
// at the same shared directory. When that directory cannot be created the
// tracer degrades to a local fallback directory rather than failing.
package paths
