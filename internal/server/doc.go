// Package server implements the broadcast core of a single-room chat relay
// and its HTTP surface.
//
// Clients connect over WebSocket, join under a display name, and exchange
// short text messages. The Hub keeps a bounded history (MessageStore), the
// roster of joined connections (SessionRegistry) and fans every accepted
// event out to all joined clients. Each connection runs its own read and
// write pumps and validates inbound events through a Session state machine.
package server
