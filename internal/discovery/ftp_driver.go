package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// ftpDriver is a minimal, binary-mode FTP client covering exactly the
// two operations the Driver interface requires. It exists so the
// discovery pool has a real transport to exercise in tests and small
// deployments; the spec treats transport client richness as out of
// scope (§1), so this deliberately does not grow beyond list/open.
type ftpDriver struct {
	ctrl *textproto.Conn
	conn net.Conn
	host string
}

const ftpConnectTimeout = 5 * time.Minute

// newFTPDriver dials hostname:21, authenticates and switches to binary
// (image) transfer mode.
func newFTPDriver(ctx context.Context, hostname, username, password string) (*ftpDriver, error) {
	dialer := net.Dialer{Timeout: ftpConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(hostname, "21"))
	if err != nil {
		return nil, fmt.Errorf("failed to dial ftp host %q: %w", hostname, err)
	}

	ctrl := textproto.NewConn(conn)
	if _, _, err := ctrl.ReadResponse(220); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ftp handshake failed for %q: %w", hostname, err)
	}

	d := &ftpDriver{ctrl: ctrl, conn: conn, host: hostname}

	if username == "" {
		username = "anonymous"
	}
	if err := d.cmdExpect(fmt.Sprintf("USER %s", username), 331, 230); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.cmdExpect(fmt.Sprintf("PASS %s", password), 230); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.cmdExpect("TYPE I", 200); err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

func (d *ftpDriver) cmdExpect(cmd string, codes ...int) error {
	id, err := d.ctrl.Cmd("%s", cmd)
	if err != nil {
		return fmt.Errorf("ftp command %q failed: %w", cmd, err)
	}
	d.ctrl.StartResponse(id)
	defer d.ctrl.EndResponse(id)

	code, msg, err := d.ctrl.ReadCodeLine(0)
	if err != nil {
		return fmt.Errorf("ftp command %q failed: %w", cmd, err)
	}
	for _, want := range codes {
		if code == want {
			return nil
		}
	}
	return fmt.Errorf("ftp command %q: unexpected response %d %s", cmd, code, msg)
}

// passive issues PASV and returns the data connection address.
func (d *ftpDriver) passive() (string, error) {
	id, err := d.ctrl.Cmd("PASV")
	if err != nil {
		return "", fmt.Errorf("ftp PASV failed: %w", err)
	}
	d.ctrl.StartResponse(id)
	defer d.ctrl.EndResponse(id)

	_, msg, err := d.ctrl.ReadCodeLine(227)
	if err != nil {
		return "", fmt.Errorf("ftp PASV failed: %w", err)
	}
	return parsePASV(msg)
}

func parsePASV(msg string) (string, error) {
	open := strings.Index(msg, "(")
	closeIdx := strings.Index(msg, ")")
	if open < 0 || closeIdx < 0 || closeIdx <= open {
		return "", fmt.Errorf("malformed PASV response %q", msg)
	}
	parts := strings.Split(msg[open+1:closeIdx], ",")
	if len(parts) != 6 {
		return "", fmt.Errorf("malformed PASV response %q", msg)
	}
	ip := strings.Join(parts[0:4], ".")
	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("malformed PASV port in %q", msg)
	}
	port := p1*256 + p2
	return net.JoinHostPort(ip, strconv.Itoa(port)), nil
}

// List implements Driver.
func (d *ftpDriver) List(ctx context.Context, path string) ([]Entry, error) {
	dataAddr, err := d.passive()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: ftpConnectTimeout}
	dataConn, err := dialer.DialContext(ctx, "tcp", dataAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to open ftp data connection: %w", err)
	}
	defer dataConn.Close()

	id, err := d.ctrl.Cmd("LIST %s", path)
	if err != nil {
		return nil, fmt.Errorf("ftp LIST %q failed: %w", path, err)
	}
	d.ctrl.StartResponse(id)
	if _, _, err := d.ctrl.ReadCodeLine(150); err != nil {
		d.ctrl.EndResponse(id)
		return nil, fmt.Errorf("ftp LIST %q failed: %w", path, err)
	}

	raw, err := io.ReadAll(dataConn)
	if err != nil {
		d.ctrl.EndResponse(id)
		return nil, fmt.Errorf("failed to read ftp listing for %q: %w", path, err)
	}

	if _, _, err := d.ctrl.ReadCodeLine(226); err != nil {
		d.ctrl.EndResponse(id)
		return nil, fmt.Errorf("ftp LIST %q did not complete: %w", path, err)
	}
	d.ctrl.EndResponse(id)

	return parseUnixListing(string(raw)), nil
}

func parseUnixListing(raw string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(strings.TrimRight(raw, "\r\n"), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		name := strings.Join(fields[8:], " ")
		if name == "." || name == ".." {
			continue
		}
		size, _ := strconv.ParseInt(fields[4], 10, 64)
		entries = append(entries, Entry{
			Name:  name,
			Size:  size,
			IsDir: strings.HasPrefix(fields[0], "d"),
		})
	}
	return entries
}

// Open implements Driver.
func (d *ftpDriver) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	dataAddr, err := d.passive()
	if err != nil {
		return nil, 0, err
	}

	dialer := net.Dialer{Timeout: ftpConnectTimeout}
	dataConn, err := dialer.DialContext(ctx, "tcp", dataAddr)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open ftp data connection: %w", err)
	}

	id, err := d.ctrl.Cmd("RETR %s", path)
	if err != nil {
		dataConn.Close()
		return nil, 0, fmt.Errorf("ftp RETR %q failed: %w", path, err)
	}
	d.ctrl.StartResponse(id)
	if _, _, err := d.ctrl.ReadCodeLine(150); err != nil {
		d.ctrl.EndResponse(id)
		dataConn.Close()
		return nil, 0, fmt.Errorf("ftp RETR %q failed: %w", path, err)
	}

	return &ftpStream{conn: dataConn, ctrl: d.ctrl, responseID: id}, 0, nil
}

// ftpStream wraps the data connection for an in-flight RETR, reading the
// final control response when the caller closes it.
type ftpStream struct {
	conn       net.Conn
	ctrl       *textproto.Conn
	responseID uint
}

func (s *ftpStream) Read(p []byte) (int, error) { return s.conn.Read(p) }

func (s *ftpStream) Close() error {
	err := s.conn.Close()
	if _, _, ctrlErr := s.ctrl.ReadCodeLine(226); ctrlErr != nil && err == nil {
		err = ctrlErr
	}
	s.ctrl.EndResponse(s.responseID)
	return err
}

// Close implements Driver.
func (d *ftpDriver) Close() error {
	_ = d.cmdExpect("QUIT", 221)
	return d.conn.Close()
}
