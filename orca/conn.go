package orca

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/atomic_clock"
	"github.com/wlansys/orcactl/helpers"
	"github.com/wlansys/orcactl/log2"
)

const (
	DefaultNetworkTimeout = 30 * time.Second

	// DefaultReadLimit bounds a single line. Longest legitimate lines are
	// the sample_table header rows, well under 4KB.
	DefaultReadLimit = 16 << 10

	// readQueue buffers parsed lines between the reader goroutine and
	// ReadLine. Event bursts after enabling txs on a busy radio are real.
	readQueue = 512
)

var (
	ErrClosing = fmt.Errorf("closing")
	ErrTimeout = fmt.Errorf("read timeout")
)

type ConnOptions struct {
	Log            *log2.Log
	NetworkTimeout time.Duration
	ReadLimit      int
}

func (o *ConnOptions) normalize() {
	if o.NetworkTimeout == 0 {
		o.NetworkTimeout = DefaultNetworkTimeout
	}
	if o.ReadLimit == 0 {
		o.ReadLimit = DefaultReadLimit
	}
}

// Conn is one line-oriented TCP session to an access point. Reads are
// pumped by an internal goroutine into a queue so that a slow consumer
// never tears the stream mid-line; writes are serialized. All methods are
// safe for concurrent use. After any transport error the Conn is dead and
// must be replaced, there is no transparent reconnect at this layer.
type Conn struct {
	sendMu sync.Mutex
	alive  *alive.Alive
	err    helpers.AtomicError
	last   atomic_clock.Clock
	net    net.Conn
	opt    ConnOptions
	lines  chan string
}

// Dial connects to addr (host:port, port defaults to DefaultPort) within
// opt.NetworkTimeout.
func Dial(addr string, opt ConnOptions) (*Conn, error) {
	opt.normalize()
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, fmt.Sprintf("%d", DefaultPort))
	}
	netConn, err := net.DialTimeout("tcp", addr, opt.NetworkTimeout)
	if err != nil {
		return nil, errors.Annotatef(err, "dial %s", addr)
	}
	return NewConn(netConn, opt), nil
}

func NewConn(netConn net.Conn, opt ConnOptions) *Conn {
	opt.normalize()
	c := &Conn{
		alive: alive.NewAlive(),
		net:   netConn,
		opt:   opt,
		lines: make(chan string, readQueue),
	}
	if tcp, ok := c.net.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetNoDelay(true)
	}
	c.last.SetNow()
	c.alive.Add(1)
	go c.reader()
	return c
}

func (c *Conn) Close() error {
	err := c.die(ErrClosing)
	c.alive.Stop()
	c.alive.Wait()
	if err == ErrClosing {
		return nil
	}
	return err
}

func (c *Conn) Closed() bool {
	_, ok := c.err.Load()
	return ok
}

// Done is closed when the reader has exited, i.e. the session is over.
func (c *Conn) Done() <-chan struct{} { return c.alive.WaitChan() }

// Err returns the error that killed the session, once there is one.
func (c *Conn) Err() error {
	e, _ := c.err.Load()
	return e
}

func (c *Conn) RemoteAddr() net.Addr { return c.net.RemoteAddr() }

func (c *Conn) String() string {
	return fmt.Sprintf("(remote=%s)", addrString(c.net.RemoteAddr()))
}

// SinceLastRecv reports how long the device has been silent. Useful as a
// liveness probe: a healthy AP emits lines continuously once events are on.
func (c *Conn) SinceLastRecv() time.Duration { return atomic_clock.Since(&c.last) }

// ReadLine returns the next received line without the trailing newline.
// ErrTimeout after the given timeout, ErrClosing or the transport error
// once the session died and the queue drained.
func (c *Conn) ReadLine(timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", c.deadErr()
		}
		return line, nil
	case <-timer.C:
		return "", ErrTimeout
	}
}

// Send writes one command line, appending the newline. Concurrent senders
// are serialized so command lines never interleave.
func (c *Conn) Send(line string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.Closed() {
		return c.deadErr()
	}
	if err := c.net.SetWriteDeadline(time.Now().Add(c.opt.NetworkTimeout)); err != nil {
		return c.die(errors.Annotate(err, "SetWriteDeadline"))
	}
	c.opt.Log.Debugf("orca send %s line=%s", c, line)
	if _, err := c.net.Write(append([]byte(line), '\n')); err != nil {
		return c.die(errors.Annotate(err, "send"))
	}
	return nil
}

func (c *Conn) deadErr() error {
	if e, ok := c.err.Load(); ok {
		return e
	}
	return ErrClosing
}

func (c *Conn) die(e error) error {
	if err, found := c.err.StoreOnce(e); found {
		return err
	}
	_ = c.net.Close()

	// reformat some well known errors for easier log reading
	estr := e.Error()
	if neterr, ok := e.(net.Error); ok && neterr.Timeout() {
		estr = "timeout"
	} else if strings.HasSuffix(estr, "connection reset by peer") {
		estr = "closed by remote"
	}
	c.opt.Log.Debugf("orca die +close remote=%s e=%s", addrString(c.net.RemoteAddr()), estr)
	return e
}

func (c *Conn) reader() {
	defer c.alive.Done()
	defer c.alive.Stop() // reader exit means session over, release waiters
	defer close(c.lines)
	stopch := c.alive.StopChan()
	go func() {
		<-stopch
		_ = c.die(ErrClosing)
	}()

	sc := bufio.NewScanner(c.net)
	sc.Buffer(make([]byte, 4<<10), c.opt.ReadLimit)
	for sc.Scan() {
		c.last.SetNow()
		select {
		case c.lines <- sc.Text():
		case <-stopch:
			return
		}
	}
	err := sc.Err()
	if err == nil {
		err = errors.New("closed by remote")
	}
	_ = c.die(err)
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
