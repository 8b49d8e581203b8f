// Package tracker owns the eye-tracker session.
//
// Ownership boundary:
// - connection and command sending
//
// - receive -> reassemble -> interpret loop
//
// - calibration state and output sinks
//
// Lifecycle order:
// - dial -> open sinks -> enable streams -> start worker -> start calibration
//
// - records before the first calibration result are discarded.
//
// - stop waits for the worker, then closes the connection, then the sinks.
//
// Malformed lines are contained to the line. Sink and command failures end
// the session.
package tracker
