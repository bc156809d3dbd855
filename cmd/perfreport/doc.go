// Command perfreport prints or exports statistics over every trace the
// pipeline has recorded.
//
// By default it reads the shared trace file. With --from it reads one
// or more running tracers over HTTP instead; traces seen by several
// sources are combined. It never writes the shared trace file.
//
// Example:
//
//	perfreport --shared-dir /tmp/egsm-performance-shared
//	perfreport --from http://engine:8091 --from http://agg:8092 --format json
//	perfreport --export ./reports
package main
