// Package monochromator composes the transport session, state tracker, bounds validator,
// motion controller and heartbeat monitor behind a single Controller.
//
// A typical sequence is:
//
//	cfg, _ := transport.NewConfig("127.0.0.1", 50000)
//	ctrl, _ := monochromator.New(ctx, cfg, limits)
//	status, err := ctrl.Connect(ctx)
//	_ = ctrl.StartHeartbeat()
//	move, err := ctrl.SetWavelength(500)
//	result := move.Wait(ctx)
//
// Every set operation validates its request before any I/O and returns a *motion.Move
// whose Poll or Wait reports InProgress, Done or Failed.
package monochromator
