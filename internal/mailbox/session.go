package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const inbox = "INBOX"

var (
	// ErrNotFound is returned when the server yields no bytes for a message
	ErrNotFound = errors.New("no email data received")
	// ErrNotConnected is returned by commands issued on a closed session
	ErrNotConnected = errors.New("mailbox session is not connected")
)

// State is the connection state of a Session
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the IMAP endpoint and credentials
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	InsecureSkipVerify bool
}

func (c Config) address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Session is a single authenticated IMAP connection. Commands are serialized
// and concurrent Connect calls share one in-flight attempt.
type Session struct {
	cfg Config

	connect singleflight.Group
	state   atomic.Int32

	mu      sync.Mutex
	client  *client.Client
	lastErr error
}

// NewSession creates a disconnected session
func NewSession(cfg Config) *Session {
	return &Session{cfg: cfg}
}

// State reports the current connection state
func (s *Session) State() State {
	return State(s.state.Load())
}

// LastError returns the error that moved the session into StateFailed
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Connect dials and logs in unless the session is already ready
func (s *Session) Connect(ctx context.Context) error {
	if s.State() == StateReady {
		return nil
	}

	ch := s.connect.DoChan("connect", func() (interface{}, error) {
		if s.State() == StateReady {
			return nil, nil
		}
		return nil, s.dial()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (s *Session) dial() error {
	s.state.Store(int32(StateConnecting))
	log := logrus.WithField("server", s.cfg.address())

	c, err := client.DialTLS(s.cfg.address(), &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	})
	if err != nil {
		return s.fail(fmt.Errorf("failed to connect to IMAP server: %w", err))
	}

	if err := c.Login(s.cfg.User, s.cfg.Password); err != nil {
		c.Logout()
		return s.fail(fmt.Errorf("failed to login to IMAP server: %w", err))
	}

	s.mu.Lock()
	s.client = c
	s.lastErr = nil
	s.mu.Unlock()
	s.state.Store(int32(StateReady))

	go s.watch(c)

	log.Info("IMAP connection established")
	return nil
}

// watch moves the session back to disconnected when the server drops the connection
func (s *Session) watch(c *client.Client) {
	<-c.LoggedOut()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != c {
		return
	}
	s.client = nil
	s.state.Store(int32(StateDisconnected))
	logrus.WithField("server", s.cfg.address()).Info("IMAP connection ended")
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.state.Store(int32(StateFailed))
	logrus.WithError(err).Error("IMAP connection error")
	return err
}

// Disconnect logs out if connected. It is safe to call in any state.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()

	s.state.Store(int32(StateDisconnected))
	if c == nil {
		return nil
	}
	if err := c.Logout(); err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

// withInbox connects, then runs fn holding the command lock with INBOX
// selected read-only.
func (s *Session) withInbox(ctx context.Context, fn func(c *client.Client) error) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return ErrNotConnected
	}
	if _, err := s.client.Select(inbox, true); err != nil {
		return fmt.Errorf("failed to select %s: %w", inbox, err)
	}
	return fn(s.client)
}

func uidSet(uids ...uint32) *imap.SeqSet {
	set := new(imap.SeqSet)
	set.AddNum(uids...)
	return set
}
