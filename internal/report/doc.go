// Package report gathers traces from shared trace files and running
// tracers and renders their combined statistics.
//
// Traces seen by several sources are combined by correlation id: a
// terminal record beats a pending one, otherwise the first source wins.
package report
