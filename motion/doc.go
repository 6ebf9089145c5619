// Package motion orchestrates device moves over a controller session.
//
// A move is validated against the physical limits before any I/O and then runs in the
// background as a sequence of steps. Each step sends one set command, waits for the controller
// software status to return to READY and confirms the new values by reading them back. A
// wavelength move that needs the other grating selects the grating first.
//
// Callers observe a move through the poll-based Move handle: Poll returns InProgress until the
// move ends in Done or Failed.
package motion
