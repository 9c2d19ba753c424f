//go:build !linux

package ipc

import (
	"net"
	"os"
)

// checkPeer relies on the socket's file mode where peer credentials are
// not read.
func checkPeer(net.Conn) (int, error) {
	return os.Getuid(), nil
}
