package mailbox

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/responses"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gmailExtension answers SEARCH with every message in the selected mailbox
// and records the arguments, standing in for Gmail's X-GM-RAW support.
type gmailExtension struct {
	mu       sync.Mutex
	args     [][]string
	readOnly []bool
}

func (e *gmailExtension) Capabilities(c server.Conn) []string {
	return []string{"X-GM-EXT-1"}
}

func (e *gmailExtension) Command(name string) server.HandlerFactory {
	if name != "SEARCH" {
		return nil
	}
	return func() server.Handler { return &gmailSearchHandler{ext: e} }
}

func (e *gmailExtension) searches() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]string(nil), e.args...)
}

type gmailSearchHandler struct {
	ext *gmailExtension
}

func (h *gmailSearchHandler) Parse(fields []interface{}) error {
	args := make([]string, 0, len(fields))
	for _, f := range fields {
		args = append(args, fmt.Sprint(f))
	}
	h.ext.mu.Lock()
	h.ext.args = append(h.ext.args, args)
	h.ext.mu.Unlock()
	return nil
}

func (h *gmailSearchHandler) search(conn server.Conn, uid bool) error {
	ctx := conn.Context()
	if ctx.Mailbox == nil {
		return server.ErrNoMailboxSelected
	}

	h.ext.mu.Lock()
	h.ext.readOnly = append(h.ext.readOnly, ctx.MailboxReadOnly)
	h.ext.mu.Unlock()

	ids, err := ctx.Mailbox.SearchMessages(uid, imap.NewSearchCriteria())
	if err != nil {
		return err
	}
	return conn.WriteResp(&responses.Search{Ids: ids})
}

func (h *gmailSearchHandler) Handle(conn server.Conn) error {
	return h.search(conn, false)
}

func (h *gmailSearchHandler) UidHandle(conn server.Conn) error {
	return h.search(conn, true)
}

type testServer struct {
	addr    *net.TCPAddr
	tlsConf *tls.Config
	ext     *gmailExtension
	mbox    backend.Mailbox
}

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// startServer runs an in-memory IMAP server over TLS. The inbox holds the
// backend's stock message plus multipartMessage, unread.
func startServer(t *testing.T) *testServer {
	t.Helper()

	be := memory.New()
	user, err := be.Login(nil, "username", "password")
	require.NoError(t, err)
	mbox, err := user.GetMailbox(inbox)
	require.NoError(t, err)
	require.NoError(t, mbox.CreateMessage(nil, time.Now(), bytes.NewBufferString(multipartMessage)))

	tlsConf := &tls.Config{Certificates: []tls.Certificate{selfSignedCert(t)}}
	l, err := tls.Listen("tcp", "127.0.0.1:0", tlsConf)
	require.NoError(t, err)

	ext := &gmailExtension{}
	s := server.New(be)
	s.AllowInsecureAuth = true
	s.Enable(ext)

	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	return &testServer{
		addr:    l.Addr().(*net.TCPAddr),
		tlsConf: tlsConf,
		ext:     ext,
		mbox:    mbox,
	}
}

func (ts *testServer) session() *Session {
	return NewSession(Config{
		Host:               "127.0.0.1",
		Port:               ts.addr.Port,
		User:               "username",
		Password:           "password",
		InsecureSkipVerify: true,
	})
}

// unreadUID is the UID of the message added by startServer
func (ts *testServer) unreadUID(t *testing.T) uint32 {
	t.Helper()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := ts.mbox.SearchMessages(true, criteria)
	require.NoError(t, err)
	require.Len(t, uids, 1)
	return uids[0]
}

// flags reads a message's flags over a separate connection
func (ts *testServer) flags(t *testing.T, uid uint32) []string {
	t.Helper()

	c, err := client.DialTLS(ts.addr.String(), &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer c.Logout()
	require.NoError(t, c.Login("username", "password"))
	_, err = c.Select(inbox, true)
	require.NoError(t, err)

	messages := make(chan *imap.Message, 1)
	require.NoError(t, c.UidFetch(uidSet(uid), []imap.FetchItem{imap.FetchFlags, imap.FetchUid}, messages))
	msg := <-messages
	require.NotNil(t, msg)
	return msg.Flags
}

func TestSessionConnectReachesReady(t *testing.T) {
	ts := startServer(t)
	s := ts.session()

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateReady, s.State())
	assert.NoError(t, s.LastError())

	// a second call on a ready session is a no-op
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateReady, s.State())

	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSessionLoginRejected(t *testing.T) {
	ts := startServer(t)
	s := NewSession(Config{
		Host:               "127.0.0.1",
		Port:               ts.addr.Port,
		User:               "username",
		Password:           "wrong",
		InsecureSkipVerify: true,
	})

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to login")
	assert.Equal(t, StateFailed, s.State())
}

func TestSessionFetchFullReturnsAttachments(t *testing.T) {
	ts := startServer(t)
	s := ts.session()
	defer s.Disconnect()

	uid := ts.unreadUID(t)
	msg, err := s.FetchFull(context.Background(), uid)
	require.NoError(t, err)

	assert.Equal(t, uid, msg.UID)
	assert.Equal(t, "March invoice", msg.Subject)
	assert.Equal(t, "Billing Team <billing@shop.com>", msg.From)
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "sales.csv", msg.Attachments[0].Filename)
	assert.Equal(t, "Item,Qty\nPen,3\n", string(msg.Attachments[0].Content))

	// examined read-only and fetched with BODY.PEEK
	assert.NotContains(t, ts.flags(t, uid), imap.SeenFlag)
}

func TestSessionFetchFullUnknownUID(t *testing.T) {
	ts := startServer(t)
	s := ts.session()
	defer s.Disconnect()

	_, err := s.FetchFull(context.Background(), 9999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, StateReady, s.State())
}

func TestSessionSearchSendsGmailQuery(t *testing.T) {
	ts := startServer(t)
	s := ts.session()
	defer s.Disconnect()

	summaries, err := s.Search(context.Background(), SearchCriteria{
		SenderEmail: "billing@shop.com",
		Query:       "invoice",
		MaxResults:  1,
	})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.NotZero(t, summaries[0].UID)
	assert.NotEqual(t, DefaultSubject, summaries[0].Subject)

	searches := ts.ext.searches()
	require.Len(t, searches, 1)
	assert.Equal(t, []string{"FROM", "billing@shop.com", "X-GM-RAW", "has:attachment invoice"}, searches[0])

	ts.ext.mu.Lock()
	readOnly := append([]bool(nil), ts.ext.readOnly...)
	ts.ext.mu.Unlock()
	assert.Equal(t, []bool{true}, readOnly)
}

func TestSessionSearchReturnsAllWithinLimit(t *testing.T) {
	ts := startServer(t)
	s := ts.session()
	defer s.Disconnect()

	summaries, err := s.Search(context.Background(), SearchCriteria{})
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	var invoice bool
	for _, summary := range summaries {
		if summary.UID == ts.unreadUID(t) {
			invoice = true
			assert.Equal(t, "March invoice", summary.Subject)
			assert.True(t, summary.HasAttachments)
		}
	}
	assert.True(t, invoice)
}

func TestSessionReconnectsAfterDisconnect(t *testing.T) {
	ts := startServer(t)
	s := ts.session()

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())

	msg, err := s.FetchFull(context.Background(), ts.unreadUID(t))
	require.NoError(t, err)
	assert.Equal(t, "March invoice", msg.Subject)
	assert.Equal(t, StateReady, s.State())

	require.NoError(t, s.Disconnect())
}
