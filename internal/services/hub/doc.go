// Package hub maintains the set of live subscriber connections and fans
// realtime notifications out to all of them.
//
// The hub is transport-agnostic: the realtime layer registers a Conn on
// connect, feeds inbound frames through Dispatch, and unregisters on
// disconnect. Broadcasting snapshots the connection set, so one failing
// peer never prevents delivery to the rest; a failed send drops and closes
// that connection.
package hub
