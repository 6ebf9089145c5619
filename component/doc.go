// Package component drives a monochromator as an explicit finite-state machine.
//
// The summary states follow the usual commandable-component lifecycle:
//
//	OFFLINE <-ExitControl- STANDBY -Start-> DISABLED -Enable-> ENABLED
//	                        ^  ^              |  ^                |
//	                        |  +---Standby----+  +----Disable-----+
//	                        +-----ClearFault---- FAULT <-- any failure
//
// Entering DISABLED connects to the controller, starting the simulated controller first in
// simulation mode. Leaving DISABLED or ENABLED disconnects. Device commands are accepted in
// ENABLED while the detailed state is READY; each sets a detailed state for its duration.
package component
