// Package utils holds input validation shared by configuration and the
// HTTP API.
package utils
