// Package logging builds the zap logger every tracer binary uses.
//
// Production output is JSON lines; development output is coloured console
// text. Subsystems log through named children of a logger that carries
// the component id, so lines from several pipeline components feeding one
// log shipper can be told apart:
//
//	root, _ := logging.New(logging.DefaultConfig())
//	log := root.ForComponent("engine-1")
//	log.Named("store").Warn("trace not found", zap.String("correlation_id", id))
package logging
