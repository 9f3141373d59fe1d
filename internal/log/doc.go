// Package log provides the leveled logger shared by the relay client,
// the relay server and the command line tools.
package log
