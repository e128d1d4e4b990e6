// Package router implements the routing daemon itself: one UDP socket
// bound to the router's own address, a dispatcher that fans decoded
// messages out to per-kind handlers, and the periodic update loop that
// ages neighbors and broadcasts split-horizon distance vectors.
//
// The Node is the composition root of a single router. The console and
// the diagnostics API both drive it through the same link operations
// (AddLink/RemoveLink/StartTrace), so behaviour cannot drift between
// the two surfaces. Everything the Node prints for a human (delivered
// payloads, control notices) goes to its console writer; structured
// logs go to logrus.
package router
