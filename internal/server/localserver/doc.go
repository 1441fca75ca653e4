// Package localserver serves the admin API on a Unix domain socket.
//
// The socket is created with mode 0600, so access is limited to the
// user running the node. It carries the same routes as the TCP admin
// listener and needs no TLS.
package localserver
