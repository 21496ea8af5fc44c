package browser

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchSkipsWhenPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	l := NewLauncher(Config{CDPAddress: host, CDPPort: port})
	l.lookPath = func(string) (string, error) {
		t.Fatal("browser lookup should not run when the port is taken")
		return "", nil
	}
	require.NoError(t, l.Launch(context.Background()))
	assert.False(t, l.Running())
}

func TestArgsPointAtStartURL(t *testing.T) {
	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: 9220, ProfileDir: "/tmp/p"})
	args := l.args()
	assert.Contains(t, args, "--remote-debugging-port=9220")
	assert.Contains(t, args, "--user-data-dir=/tmp/p")
	assert.Equal(t, defaultStartURL, args[len(args)-1])
}

func TestDetectBrowserReportsMissing(t *testing.T) {
	l := NewLauncher(Config{})
	l.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if _, err := l.detectBrowser(); err != nil {
		assert.Contains(t, err.Error(), "no supported browser")
	}
}
