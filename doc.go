// Package roomkit manages the lifecycle of a chat room composed of several
// feature sub-components, each backed by one pub/sub transport channel.
//
// A room presents a single coherent lifecycle (attaching, attached,
// detaching, detached, suspended, failed) over independently-failing
// channels. The RoomLifecycleManager coordinates the per-channel state
// machines: it serializes user attach/detach operations, rolls back partial
// attach sequences, absorbs transient channel flaps, detects message-stream
// discontinuities across reconnections, and recovers from suspensions.
//
// Basic usage:
//
//	status := roomkit.NewRoomStatus(logger)
//	mgr, err := roomkit.NewRoomLifecycleManager(status, contributors, logger)
//	if err != nil {
//		return err
//	}
//	if err := mgr.Attach(ctx); err != nil {
//		return err
//	}
//
// Contributors wrap one transport channel each and expose feature-specific
// error codes; the manager treats them uniformly and never inspects feature
// semantics.
package roomkit
