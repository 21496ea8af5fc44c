// Package netutil picks a free address for the control API.
package netutil

import (
	"errors"
	"fmt"
	"net"
)

var ErrNoBindAddr = errors.New("no available control API bind address")

// SelectBindAddr returns preferred when it is free, otherwise the first free
// candidate if autoFallback is set.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		if IsAddrAvailable(preferred) {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}

	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		if IsAddrAvailable(addr) {
			return addr, nil
		}
	}
	return "", ErrNoBindAddr
}

// IsAddrAvailable reports whether addr can be listened on right now.
func IsAddrAvailable(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
