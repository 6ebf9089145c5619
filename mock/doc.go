// Package mock implements an in-process stand-in for the monochromator controller.
//
// Controller listens on a TCP address, serves one client at a time and answers the same line
// protocol as the real hardware. It keeps its own simulated device position; set commands are
// acknowledged at once but take a settling time to complete, during which the software status
// reads SETTING_UP and queries report the previous position.
//
// Test hooks allow delaying replies per verb, making the controller unresponsive, dropping the
// client connection, overriding command handlers and inspecting the journal of received
// commands.
package mock
