package ftpadapter

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jgivc/imergfetch/internal/common"
	"github.com/jgivc/imergfetch/internal/config"
	"github.com/jlaffaye/ftp"
)

const (
	schemeFTP  = "ftp"
	schemeFTPS = "ftps"

	// FTP reply for "file unavailable".
	codeFileUnavailable = ftp.StatusFileUnavailable
)

// Conn is the subset of *ftp.ServerConn the fetcher needs.
type Conn interface {
	Login(user, password string) error
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

// Dialer opens a control connection to addr. serverName
// is the original host name, used for TLS verification when addr is an IP.
type Dialer interface {
	Dial(ctx context.Context, addr, serverName string) (Conn, error)
}

// Resolver returns the IPv4 addresses of host.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

type fetcher struct {
	cfg      *config.FTPConfig
	dialer   Dialer
	resolver Resolver
	log      *slog.Logger
}

func NewFetcher(cfg *config.FTPConfig, log *slog.Logger) *fetcher {
	return NewFetcherWithDialer(cfg, &tlsDialer{cfg: cfg}, net.DefaultResolver, log)
}

func NewFetcherWithDialer(cfg *config.FTPConfig, dialer Dialer, resolver Resolver, log *slog.Logger) *fetcher {
	return &fetcher{
		cfg:      cfg,
		dialer:   dialer,
		resolver: resolver,
		log:      log.With(slog.String("item", "Fetcher")),
	}
}

// Fetch downloads the whole file at remoteURL. The credentials go only to
// the FTP login; a URL carrying user info is rejected.
func (f *fetcher) Fetch(ctx context.Context, remoteURL string, creds config.Credentials) ([]byte, error) {
	host, port, path, err := f.splitURL(remoteURL)
	if err != nil {
		return nil, err
	}

	log := f.log.With(slog.String("host", host), slog.String("path", path))
	log.Info("Downloading", slog.String("url", remoteURL))

	addr, err := f.resolve4(ctx, host, port)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrTransferError, err)
	}

	conn, err := f.dialer.Dial(ctx, addr, host)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot connect to %s: %w", common.ErrTransferError, addr, err)
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			log.Debug("Cannot quit", slog.Any("error", err))
		}
	}()

	if err := conn.Login(creds.Username, creds.Password); err != nil {
		return nil, fmt.Errorf("%w: login as %s: %w", common.ErrTransferError, creds.Username, err)
	}

	r, err := conn.Retr(path)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %w: %s", common.ErrTransferError, common.ErrNotFoundError, path)
		}

		return nil, fmt.Errorf("%w: retr %s: %w", common.ErrTransferError, path, err)
	}
	defer r.Close()

	if d, ok := ctx.Deadline(); ok {
		if dr, ok := r.(interface{ SetDeadline(time.Time) error }); ok {
			dr.SetDeadline(d)
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}

		return nil, fmt.Errorf("%w: read %s: %w", common.ErrTransferError, path, err)
	}

	log.Info("Downloaded", slog.Int("bytes", len(data)))

	return data, nil
}

func (f *fetcher) splitURL(remoteURL string) (host, port, path string, err error) {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: cannot parse url: %w", common.ErrTransferError, err)
	}

	if u.User != nil {
		return "", "", "", fmt.Errorf("%w: %w", common.ErrTransferError, common.ErrCredentialsInURL)
	}

	if u.Scheme != schemeFTP && u.Scheme != schemeFTPS {
		return "", "", "", fmt.Errorf("%w: unsupported scheme %q", common.ErrTransferError, u.Scheme)
	}

	host = u.Hostname()
	if host == "" {
		return "", "", "", fmt.Errorf("%w: no host in url", common.ErrTransferError)
	}

	port = u.Port()
	if port == "" {
		port = f.cfg.DefaultPort()
	}

	path = strings.TrimPrefix(u.Path, "/")
	if path == "" {
		return "", "", "", fmt.Errorf("%w: no path in url", common.ErrTransferError)
	}

	return host, port, path, nil
}

// resolve4 pins the connection to IPv4; the archive has had broken IPv6.
func (f *fetcher) resolve4(ctx context.Context, host, port string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			return "", fmt.Errorf("not an IPv4 address: %s", host)
		}

		return net.JoinHostPort(host, port), nil
	}

	ips, err := f.resolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return "", fmt.Errorf("cannot resolve %s: %w", host, err)
	}

	if len(ips) == 0 {
		return "", fmt.Errorf("no IPv4 address for %s", host)
	}

	return net.JoinHostPort(ips[0].String(), port), nil
}

func isNotFound(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code == codeFileUnavailable
	}

	return false
}

type tlsDialer struct {
	cfg *config.FTPConfig
}

func (d *tlsDialer) Dial(ctx context.Context, addr, serverName string) (Conn, error) {
	tlsConfig := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: d.cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(0),
	}

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(d.cfg.DialTimeout),
	}

	if d.cfg.ImplicitTLS {
		opts = append(opts, ftp.DialWithTLS(tlsConfig))
	} else {
		opts = append(opts, ftp.DialWithExplicitTLS(tlsConfig))
	}

	if d.cfg.Debug {
		opts = append(opts, ftp.DialWithDebugOutput(os.Stderr))
	}

	c, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, err
	}

	return &serverConn{c}, nil
}

type serverConn struct {
	*ftp.ServerConn
}

func (c *serverConn) Retr(path string) (io.ReadCloser, error) {
	r, err := c.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}

	return r, nil
}
