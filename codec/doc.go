// Package codec implements the monochromator controller's ASCII line protocol.
//
// Requests are single lines made of a kind marker ('!' to set, '?' to query), a verb and
// space separated arguments:
//
//	!WL 500.000     set wavelength (nm)
//	!GR 1           select grating
//	!ENS 1.250      set entrance slit width (mm)
//	!EXS 1.250      set exit slit width (mm)
//	!CLW 0.500      calibrate wavelength offset (nm)
//	!RST 1          reset the controller
//	!SET 500.000 0 1.250 1.250
//	?WL ?GR ?ENS ?EXS ?SWST
//
// Set requests are acknowledged with one of #OK, #OUR (out of range), ?? (invalid command),
// #BUSY and #RJCT (rejected). Query requests are answered with the verb tag and a value,
// for example "#WL 500.000" or "#SWST 0".
//
// Numbers are always written in fixed-point notation with Precision decimals so the encoding
// does not depend on locale or on float formatting heuristics. Malformed replies decode to a
// *ProtocolError, non-#OK acknowledgments to a *ReplyError.
package codec
