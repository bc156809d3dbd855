// Package correlation finds the correlation id carried by an event.
//
// Producers that can be changed should populate a Carrier (for example by
// wrapping their payload in an Envelope). For everything else the
// Extractor looks for well-known id fields on untyped payloads, inside a
// nested "event" object, and inside JSON text. As a last, degraded
// resort the Matcher guesses the id of a pending trace from the entity
// name and process instance an event mentions.
//
// Nothing in this package has side effects.
package correlation
