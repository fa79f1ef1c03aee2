package ftpadapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"strings"
	"testing"

	"github.com/jgivc/imergfetch/internal/common"
	"github.com/jgivc/imergfetch/internal/config"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testURL  = "ftp://arthurhouftps.pps.eosdis.nasa.gov/sm/730/gpmdata/2011/08/01/gis/3B-DAY-GIS.MS.MRG.3IMERG.20110801-S000000-E235959.6360.V07B.tif"
	testPath = "sm/730/gpmdata/2011/08/01/gis/3B-DAY-GIS.MS.MRG.3IMERG.20110801-S000000-E235959.6360.V07B.tif"
	testHost = "arthurhouftps.pps.eosdis.nasa.gov"
)

var testCreds = config.Credentials{Username: "user@example.com", Password: "user@example.com"}

type MockConn struct {
	mock.Mock
}

func (m *MockConn) Login(user, password string) error {
	return m.Called(user, password).Error(0)
}

func (m *MockConn) Retr(path string) (io.ReadCloser, error) {
	args := m.Called(path)

	var r io.ReadCloser
	if args[0] != nil {
		if rr, ok := args.Get(0).(io.ReadCloser); ok {
			r = rr
		}
	}

	return r, args.Error(1)
}

func (m *MockConn) Quit() error {
	return m.Called().Error(0)
}

type MockDialer struct {
	mock.Mock
}

func (m *MockDialer) Dial(ctx context.Context, addr, serverName string) (Conn, error) {
	args := m.Called(addr, serverName)

	var c Conn
	if args[0] != nil {
		if cc, ok := args.Get(0).(Conn); ok {
			c = cc
		}
	}

	return c, args.Error(1)
}

type staticResolver struct {
	network string
	ips     []net.IP
	err     error
}

func (r *staticResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	r.network = network

	return r.ips, r.err
}

func newTestFetcher(d Dialer, r Resolver) *fetcher {
	cfg := &config.FTPConfig{}
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	return NewFetcherWithDialer(cfg, d, r, log)
}

func TestFetch(t *testing.T) {
	conn := new(MockConn)
	conn.On("Login", testCreds.Username, testCreds.Password).Return(nil)
	conn.On("Retr", testPath).Return(io.NopCloser(strings.NewReader("tiff bytes")), nil)
	conn.On("Quit").Return(nil)

	dialer := new(MockDialer)
	dialer.On("Dial", "198.118.194.38:21", testHost).Return(conn, nil)

	resolver := &staticResolver{ips: []net.IP{net.ParseIP("198.118.194.38")}}

	data, err := newTestFetcher(dialer, resolver).Fetch(context.Background(), testURL, testCreds)
	require.NoError(t, err)
	require.Equal(t, []byte("tiff bytes"), data)
	require.Equal(t, "ip4", resolver.network)

	conn.AssertExpectations(t)
	dialer.AssertExpectations(t)
}

func TestFetchCredentialsNeverInURL(t *testing.T) {
	conn := new(MockConn)
	conn.On("Login", mock.Anything, mock.Anything).Return(nil)
	conn.On("Retr", mock.Anything).Return(io.NopCloser(strings.NewReader("x")), nil)
	conn.On("Quit").Return(nil)

	dialer := new(MockDialer)
	dialer.On("Dial", mock.Anything, mock.Anything).Return(conn, nil)

	resolver := &staticResolver{ips: []net.IP{net.ParseIP("10.0.0.1")}}
	_, err := newTestFetcher(dialer, resolver).Fetch(context.Background(), testURL, testCreds)
	require.NoError(t, err)

	conn.AssertCalled(t, "Login", "user@example.com", "user@example.com")
	for _, call := range conn.Calls {
		if call.Method == "Retr" {
			require.NotContains(t, call.Arguments.String(0), "@")
		}
	}
	for _, call := range dialer.Calls {
		require.NotContains(t, call.Arguments.String(0), "@")
		require.NotContains(t, call.Arguments.String(1), "@")
	}
}

func TestFetchRejectsUserInfo(t *testing.T) {
	dialer := new(MockDialer)
	f := newTestFetcher(dialer, &staticResolver{})

	_, err := f.Fetch(context.Background(), "ftp://user%40example.com:pw@"+testHost+"/"+testPath, testCreds)
	require.ErrorIs(t, err, common.ErrTransferError)
	require.ErrorIs(t, err, common.ErrCredentialsInURL)
	dialer.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything)
}

func TestFetchErrors(t *testing.T) {
	testCases := []struct {
		name        string
		url         string
		resolver    *staticResolver
		setup       func(d *MockDialer, c *MockConn)
		expectNotFd bool
	}{
		{
			name:     "Unsupported scheme",
			url:      "https://" + testHost + "/" + testPath,
			resolver: &staticResolver{},
			setup:    func(d *MockDialer, c *MockConn) {},
		},
		{
			name:     "No path",
			url:      "ftp://" + testHost,
			resolver: &staticResolver{},
			setup:    func(d *MockDialer, c *MockConn) {},
		},
		{
			name:     "IPv6 literal",
			url:      "ftp://[::1]/" + testPath,
			resolver: &staticResolver{},
			setup:    func(d *MockDialer, c *MockConn) {},
		},
		{
			name:     "No IPv4 address",
			url:      testURL,
			resolver: &staticResolver{},
			setup:    func(d *MockDialer, c *MockConn) {},
		},
		{
			name:     "Resolve failure",
			url:      testURL,
			resolver: &staticResolver{err: errors.New("no such host")},
			setup:    func(d *MockDialer, c *MockConn) {},
		},
		{
			name:     "Connect failure",
			url:      testURL,
			resolver: &staticResolver{ips: []net.IP{net.ParseIP("10.0.0.1")}},
			setup: func(d *MockDialer, c *MockConn) {
				d.On("Dial", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
			},
		},
		{
			name:     "Login failure",
			url:      testURL,
			resolver: &staticResolver{ips: []net.IP{net.ParseIP("10.0.0.1")}},
			setup: func(d *MockDialer, c *MockConn) {
				d.On("Dial", mock.Anything, mock.Anything).Return(c, nil)
				c.On("Login", mock.Anything, mock.Anything).Return(&textproto.Error{Code: 530, Msg: "Login incorrect."})
				c.On("Quit").Return(nil)
			},
		},
		{
			name:     "Remote file missing",
			url:      testURL,
			resolver: &staticResolver{ips: []net.IP{net.ParseIP("10.0.0.1")}},
			setup: func(d *MockDialer, c *MockConn) {
				d.On("Dial", mock.Anything, mock.Anything).Return(c, nil)
				c.On("Login", mock.Anything, mock.Anything).Return(nil)
				c.On("Retr", mock.Anything).Return(nil, &textproto.Error{Code: 550, Msg: "Failed to open file."})
				c.On("Quit").Return(nil)
			},
			expectNotFd: true,
		},
		{
			name:     "Read failure",
			url:      testURL,
			resolver: &staticResolver{ips: []net.IP{net.ParseIP("10.0.0.1")}},
			setup: func(d *MockDialer, c *MockConn) {
				d.On("Dial", mock.Anything, mock.Anything).Return(c, nil)
				c.On("Login", mock.Anything, mock.Anything).Return(nil)
				c.On("Retr", mock.Anything).Return(io.NopCloser(&failingReader{}), nil)
				c.On("Quit").Return(nil)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := new(MockDialer)
			c := new(MockConn)
			tc.setup(d, c)

			_, err := newTestFetcher(d, tc.resolver).Fetch(context.Background(), tc.url, testCreds)
			require.ErrorIs(t, err, common.ErrTransferError)

			if tc.expectNotFd {
				require.ErrorIs(t, err, common.ErrNotFoundError)
			} else {
				require.NotErrorIs(t, err, common.ErrNotFoundError)
			}
		})
	}
}

func TestFetchExplicitPort(t *testing.T) {
	conn := new(MockConn)
	conn.On("Login", mock.Anything, mock.Anything).Return(nil)
	conn.On("Retr", "data/file.tif").Return(io.NopCloser(strings.NewReader("")), nil)
	conn.On("Quit").Return(nil)

	dialer := new(MockDialer)
	dialer.On("Dial", "127.0.0.1:2121", "127.0.0.1").Return(conn, nil)

	_, err := newTestFetcher(dialer, &staticResolver{}).Fetch(context.Background(), "ftp://127.0.0.1:2121/data/file.tif", testCreds)
	require.NoError(t, err)
	dialer.AssertExpectations(t)
}

func TestDefaultPort(t *testing.T) {
	require.Equal(t, "21", (&config.FTPConfig{}).DefaultPort())
	require.Equal(t, "990", (&config.FTPConfig{ImplicitTLS: true}).DefaultPort())
}

type failingReader struct{}

func (r *failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}
