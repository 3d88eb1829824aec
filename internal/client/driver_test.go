package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/eppctl/internal/protocol/frame"
	"github.com/danmuck/eppctl/internal/protocol/session"
	"github.com/danmuck/eppctl/internal/template"
	"github.com/danmuck/eppctl/internal/testutil/eppserver"
	"github.com/danmuck/eppctl/internal/testutil/testlog"
	"github.com/danmuck/eppctl/internal/testutil/tlstest"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedPeer answers each complete request frame with one response frame
// and fails the test if the driver reads with nothing in flight or writes
// while a response is still unread.
type scriptedPeer struct {
	t       *testing.T
	pending bytes.Buffer
	inbound bytes.Buffer
	events  []string
	writes  int
	reads   int
	closes  int
	reply   func(req []byte) []byte
}

func newScriptedPeer(t *testing.T, greeting []byte) *scriptedPeer {
	p := &scriptedPeer{
		t:     t,
		reply: func([]byte) []byte { return []byte("<ack/>") },
	}
	if greeting != nil {
		wire, err := frame.Encode(greeting)
		if err != nil {
			t.Fatalf("encode greeting: %v", err)
		}
		p.pending.Write(wire)
	}
	return p
}

func (p *scriptedPeer) record(ev string) {
	if n := len(p.events); n > 0 && p.events[n-1] == ev {
		return
	}
	p.events = append(p.events, ev)
}

func (p *scriptedPeer) Read(b []byte) (int, error) {
	p.reads++
	if p.pending.Len() == 0 {
		p.t.Errorf("read with no response in flight")
		return 0, io.EOF
	}
	p.record("read")
	return p.pending.Read(b)
}

func (p *scriptedPeer) Write(b []byte) (int, error) {
	if p.pending.Len() > 0 {
		p.t.Errorf("write while %d response bytes unread", p.pending.Len())
	}
	p.writes++
	p.record("write")
	p.inbound.Write(b)
	for {
		req, err := frame.ReadFrame(bytes.NewReader(p.inbound.Bytes()), frame.DefaultLimits())
		if err != nil {
			break
		}
		p.inbound.Next(frame.HeaderLen + len(req))
		wire, err := frame.Encode(p.reply(req))
		if err != nil {
			p.t.Fatalf("encode reply: %v", err)
		}
		p.pending.Write(wire)
	}
	return len(b), nil
}

func (p *scriptedPeer) Close() error {
	p.closes++
	return nil
}

func dialPeer(p *scriptedPeer) Option {
	return WithDialer(func(context.Context, session.Config) (Transport, error) {
		return p, nil
	})
}

type recorder struct {
	greetings [][]byte
	rendered  []string
	responses []string
	indexes   []int
}

func (r *recorder) Greeting(payload []byte) { r.greetings = append(r.greetings, payload) }

func (r *recorder) Rendered(index int, _ string, doc string) {
	r.indexes = append(r.indexes, index)
	r.rendered = append(r.rendered, doc)
}

func (r *recorder) Response(index int, _ string, payload []byte) {
	r.indexes = append(r.indexes, index)
	r.responses = append(r.responses, string(payload))
}

func templates(texts ...string) []template.Template {
	out := make([]template.Template, 0, len(texts))
	for i, text := range texts {
		out = append(out, template.Template{Name: "t" + strconv.Itoa(i+1), Text: text})
	}
	return out
}

func liveConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.TLS.Enabled = false
	cfg.Session.ReadTimeout = 2 * time.Second
	cfg.Session.WriteTimeout = 2 * time.Second
	return cfg
}

func TestRunStrictHalfDuplexOrdering(t *testing.T) {
	testlog.Start(t)
	peer := newScriptedPeer(t, []byte("<greeting/>"))
	n := 0
	peer.reply = func(req []byte) []byte {
		n++
		return []byte("<ack n=\"" + strconv.Itoa(n) + "\">" + string(req) + "</ack>")
	}
	rec := &recorder{}
	d := NewDriver(liveConfig(), rec, dialPeer(peer))

	summary, err := d.Run(context.Background(), templates("<a/>", "<b/>", "<c/>", "<d/>"), template.Substitutions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Completed != 4 || summary.Templates != 4 || !summary.Greeting {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if peer.writes != 4 {
		t.Fatalf("expected 4 writes, got %d", peer.writes)
	}
	want := []string{"read", "write", "read", "write", "read", "write", "read", "write", "read"}
	if strings.Join(peer.events, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected io order: %v", peer.events)
	}
	wantResp := []string{
		`<ack n="1"><a/></ack>`,
		`<ack n="2"><b/></ack>`,
		`<ack n="3"><c/></ack>`,
		`<ack n="4"><d/></ack>`,
	}
	if strings.Join(rec.responses, "|") != strings.Join(wantResp, "|") {
		t.Fatalf("unexpected responses: %q", rec.responses)
	}
	if peer.closes != 1 {
		t.Fatalf("expected one close, got %d", peer.closes)
	}
}

func TestRunGreetingConsumedNotReused(t *testing.T) {
	testlog.Start(t)
	peer := newScriptedPeer(t, []byte("<greeting/>"))
	rec := &recorder{}
	cfg := liveConfig()
	cfg.Verbose = true
	d := NewDriver(cfg, rec, dialPeer(peer))

	if _, err := d.Run(context.Background(), templates("<hello/>"), template.Substitutions{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rec.greetings) != 1 || string(rec.greetings[0]) != "<greeting/>" {
		t.Fatalf("unexpected greetings: %q", rec.greetings)
	}
	if len(rec.responses) != 1 || rec.responses[0] != "<ack/>" {
		t.Fatalf("greeting reused as response: %q", rec.responses)
	}
}

func TestRunGreetingDiscardedWhenQuiet(t *testing.T) {
	testlog.Start(t)
	peer := newScriptedPeer(t, []byte("<greeting/>"))
	rec := &recorder{}
	d := NewDriver(liveConfig(), rec, dialPeer(peer))

	summary, err := d.Run(context.Background(), templates("<hello/>"), template.Substitutions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.Greeting {
		t.Fatalf("greeting should still be read")
	}
	if len(rec.greetings) != 0 {
		t.Fatalf("greeting surfaced without verbose: %q", rec.greetings)
	}
	if len(rec.responses) != 1 || rec.responses[0] != "<ack/>" {
		t.Fatalf("unexpected responses: %q", rec.responses)
	}
}

func TestRunSkipGreeting(t *testing.T) {
	testlog.Start(t)
	peer := newScriptedPeer(t, nil)
	rec := &recorder{}
	cfg := liveConfig()
	cfg.SkipGreeting = true
	d := NewDriver(cfg, rec, dialPeer(peer))

	summary, err := d.Run(context.Background(), templates("<hello/>", "<bye/>"), template.Substitutions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Greeting {
		t.Fatalf("greeting read despite skip")
	}
	if peer.events[0] != "write" {
		t.Fatalf("expected first io to be a write, got %v", peer.events)
	}
	if len(rec.responses) != 2 {
		t.Fatalf("unexpected responses: %q", rec.responses)
	}
}

func TestRunDryRunNeverDials(t *testing.T) {
	testlog.Start(t)
	dials := 0
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.DryRun = true
	d := NewDriver(cfg, rec, WithDialer(func(context.Context, session.Config) (Transport, error) {
		dials++
		return nil, errors.New("dialed in dry run")
	}))

	subs := template.NewSubstitutions(template.Var{Name: "DOMAIN", Value: "example.co.za"})
	in := templates("<name>%(DOMAIN)s</name>", "<clTRID>__CLTRID__</clTRID>", "<x>%(MISSING)s</x>")
	summary, err := d.Run(context.Background(), in, subs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if dials != 0 {
		t.Fatalf("dry run dialed %d times", dials)
	}
	if summary.Completed != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	want := []string{"<name>example.co.za</name>", "<clTRID>__CLTRID__</clTRID>", "<x>%(MISSING)s</x>"}
	if strings.Join(rec.rendered, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected rendered docs: %q", rec.rendered)
	}
	if len(rec.responses) != 0 || len(rec.greetings) != 0 {
		t.Fatalf("dry run produced network output")
	}
}

func TestRunFillsTransactionIDs(t *testing.T) {
	testlog.Start(t)
	peer := newScriptedPeer(t, []byte("<greeting/>"))
	var sent []string
	peer.reply = func(req []byte) []byte {
		sent = append(sent, string(req))
		return []byte("<ack/>")
	}
	ids := []string{"EPPTEST-1", "EPPTEST-2"}
	next := 0
	d := NewDriver(liveConfig(), nil, dialPeer(peer), WithTransactionIDs(func() string {
		id := ids[next]
		next++
		return id
	}))

	summary, err := d.Run(context.Background(), templates("<clTRID>__CLTRID__</clTRID>", "<hello/>", "<clTRID>__CLTRID__</clTRID>"), template.Substitutions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"<clTRID>EPPTEST-1</clTRID>", "<hello/>", "<clTRID>EPPTEST-2</clTRID>"}
	if strings.Join(sent, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected sent docs: %q", sent)
	}
	if strings.Join(summary.TransactionIDs, ",") != "EPPTEST-1,,EPPTEST-2" {
		t.Fatalf("unexpected ids: %q", summary.TransactionIDs)
	}
}

func TestRunTransactionIDsDisabled(t *testing.T) {
	testlog.Start(t)
	peer := newScriptedPeer(t, nil)
	var sent string
	peer.reply = func(req []byte) []byte {
		sent = string(req)
		return []byte("<ack/>")
	}
	cfg := liveConfig()
	cfg.SkipGreeting = true
	cfg.TransactionIDs = false
	d := NewDriver(cfg, nil, dialPeer(peer))
	if _, err := d.Run(context.Background(), templates("__CLTRID__"), template.Substitutions{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sent != "__CLTRID__" {
		t.Fatalf("marker replaced with ids disabled: %q", sent)
	}
}

func TestRunEndToEnd(t *testing.T) {
	testlog.Start(t)
	greeting := []byte("<epp/>")
	srv := eppserver.Start(t, eppserver.Config{Greeting: greeting})

	var out bytes.Buffer
	cfg := liveConfig()
	cfg.Session.Host = srv.Host()
	cfg.Session.Port = srv.Port()
	cfg.Verbose = true
	printer := NewPrinter(&out)
	d := NewDriver(cfg, printer)

	summary, err := d.Run(context.Background(), templates("<hello/>", "<bye/>"), template.Substitutions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if printer.Err != nil {
		t.Fatalf("printer: %v", printer.Err)
	}
	if summary.Completed != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	want := "<!-- Greeting:-->\n<epp/>\n" +
		"<ack/>\n" + responseSeparator +
		"<ack/>\n" + responseSeparator
	if out.String() != want {
		t.Fatalf("unexpected output:\n%q\nwant:\n%q", out.String(), want)
	}
	reqs := srv.Requests()
	if len(reqs) != 2 || string(reqs[0]) != "<hello/>" || string(reqs[1]) != "<bye/>" {
		t.Fatalf("unexpected requests: %q", reqs)
	}
}

type closeCounter struct {
	Transport
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return c.Transport.Close()
}

func countingDialer(counter **closeCounter) Option {
	return WithDialer(func(ctx context.Context, cfg session.Config) (Transport, error) {
		conn, err := session.Dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		*counter = &closeCounter{Transport: conn}
		return *counter, nil
	})
}

func TestRunAbortsOnDroppedConnection(t *testing.T) {
	testlog.Start(t)
	srv := eppserver.Start(t, eppserver.Config{
		Greeting: []byte("<greeting/>"),
		Reply: func(i int, _ []byte) ([]byte, bool) {
			if i == 1 {
				return nil, false
			}
			return []byte("<ack/>"), true
		},
	})
	cfg := liveConfig()
	cfg.Session.Host = srv.Host()
	cfg.Session.Port = srv.Port()
	rec := &recorder{}
	var counter *closeCounter
	d := NewDriver(cfg, rec, countingDialer(&counter))

	summary, err := d.Run(context.Background(), templates("<one/>", "<two/>", "<three/>"), template.Substitutions{})
	var runErr *Error
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if runErr.Phase != PhaseReceive || runErr.Index != 2 || runErr.Name != "t2" {
		t.Fatalf("unexpected failure: %+v", runErr)
	}
	if !errors.Is(err, frame.ErrFraming) {
		t.Fatalf("expected framing error cause, got %v", err)
	}
	if summary.Completed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(rec.responses) != 1 {
		t.Fatalf("unexpected responses: %q", rec.responses)
	}
	if counter == nil || counter.closes != 1 {
		t.Fatalf("connection not closed exactly once")
	}
	_ = srv.Close()
	if got := len(srv.Requests()); got != 2 {
		t.Fatalf("template sent after failure: requests=%d", got)
	}
}

func TestRunGreetingFramingErrors(t *testing.T) {
	testlog.Start(t)
	truncated := make([]byte, frame.HeaderLen+50)
	truncated[3] = 100

	cases := []struct {
		name string
		raw  []byte
		want error
	}{
		{name: "length too small", raw: []byte{0, 0, 0, 2}, want: frame.ErrLengthTooSmall},
		{name: "truncated", raw: truncated, want: frame.ErrTruncated},
		{name: "short header", raw: []byte{0, 0}, want: frame.ErrShortHeader},
	}
	for _, tc := range cases {
		srv := eppserver.Start(t, eppserver.Config{RawGreeting: tc.raw})
		cfg := liveConfig()
		cfg.Session.Host = srv.Host()
		cfg.Session.Port = srv.Port()
		var counter *closeCounter
		d := NewDriver(cfg, nil, countingDialer(&counter))

		_, err := d.Run(context.Background(), templates("<hello/>"), template.Substitutions{})
		if phase, ok := PhaseOf(err); !ok || phase != PhaseGreeting {
			t.Fatalf("%s: expected greeting failure, got %v", tc.name, err)
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if counter == nil || counter.closes != 1 {
			t.Fatalf("%s: connection not closed exactly once", tc.name)
		}
		_ = srv.Close()
		if len(srv.Requests()) != 0 {
			t.Fatalf("%s: template sent after greeting failure", tc.name)
		}
	}
}

func TestRunConnectFailure(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portRaw, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portRaw)
	_ = ln.Close()

	cfg := liveConfig()
	cfg.Session.Port = port
	_, err = NewDriver(cfg, nil).Run(context.Background(), templates("<hello/>"), template.Substitutions{})
	if phase, _ := PhaseOf(err); phase != PhaseConnect {
		t.Fatalf("expected connect failure, got %v", err)
	}
	if !errors.Is(err, session.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestRunTLSFailure(t *testing.T) {
	testlog.Start(t)
	srv := eppserver.Start(t, eppserver.Config{Greeting: []byte("<greeting-in-clear/>")})
	cfg := liveConfig()
	cfg.Session.Host = srv.Host()
	cfg.Session.Port = srv.Port()
	cfg.Session.TLS.Enabled = true
	cfg.Session.HandshakeTimeout = time.Second

	_, err := NewDriver(cfg, nil).Run(context.Background(), templates("<hello/>"), template.Substitutions{})
	if phase, _ := PhaseOf(err); phase != PhaseTLS {
		t.Fatalf("expected tls failure, got %v", err)
	}
}

func TestRunClientCertificateRejectedIsTLSFailure(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "registry-test-ca")
	serverPair := ca.IssueServerCert(t, dir, "epp.registry.test")
	srv := eppserver.Start(t, eppserver.Config{
		Greeting: []byte("<greeting/>"),
		TLS:      ca.ServerTLSConfig(t, serverPair, true),
	})
	cfg := liveConfig()
	cfg.Session.Host = srv.Host()
	cfg.Session.Port = srv.Port()
	cfg.Session.TLS.Enabled = true

	_, err := NewDriver(cfg, nil).Run(context.Background(), templates("<hello/>"), template.Substitutions{})
	if phase, _ := PhaseOf(err); phase != PhaseTLS {
		t.Fatalf("expected tls failure, got %v", err)
	}
	if !errors.Is(err, session.ErrHandshake) {
		t.Fatalf("expected handshake error, got %v", err)
	}
	if len(srv.Requests()) != 0 {
		t.Fatalf("server received requests: %d", len(srv.Requests()))
	}
}

func TestRunCancelUnblocksHungServer(t *testing.T) {
	testlog.Start(t)
	srv := eppserver.Start(t, eppserver.Config{})
	cfg := liveConfig()
	cfg.Session.Host = srv.Host()
	cfg.Session.Port = srv.Port()
	cfg.Session.ReadTimeout = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := NewDriver(cfg, nil).Run(ctx, templates("<hello/>"), template.Substitutions{})
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if phase, _ := PhaseOf(err); phase != PhaseGreeting {
			t.Fatalf("expected greeting phase, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run still blocked after cancel")
	}
}

func TestRunConfigFailureNeverDials(t *testing.T) {
	testlog.Start(t)
	cfg := liveConfig()
	cfg.Session.TLS.CertFile = "client.pem"
	dials := 0
	d := NewDriver(cfg, nil, WithDialer(func(context.Context, session.Config) (Transport, error) {
		dials++
		return nil, errors.New("unexpected dial")
	}))
	_, err := d.Run(context.Background(), templates("<hello/>"), template.Substitutions{})
	if phase, _ := PhaseOf(err); phase != PhaseConfig {
		t.Fatalf("expected config failure, got %v", err)
	}
	if !errors.Is(err, session.ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	if dials != 0 {
		t.Fatalf("dialed with invalid config")
	}
}

func TestRunNoTemplates(t *testing.T) {
	_, err := NewDriver(DefaultConfig(), nil).Run(context.Background(), nil, template.Substitutions{})
	if !errors.Is(err, ErrNoTemplates) {
		t.Fatalf("expected ErrNoTemplates, got %v", err)
	}
}

type fakeMetrics struct {
	sent, received, exchanges, failures int
}

func (m *fakeMetrics) FrameSent(int)     { m.sent++ }
func (m *fakeMetrics) FrameReceived(int) { m.received++ }

func (m *fakeMetrics) Exchange(_ time.Duration, err error) {
	m.exchanges++
	if err != nil {
		m.failures++
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	testlog.Start(t)
	peer := newScriptedPeer(t, []byte("<greeting/>"))
	m := &fakeMetrics{}
	d := NewDriver(liveConfig(), nil, dialPeer(peer), WithMetrics(m))
	if _, err := d.Run(context.Background(), templates("<a/>", "<b/>"), template.Substitutions{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if m.sent != 2 || m.received != 3 || m.exchanges != 2 || m.failures != 0 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Phase: PhaseReceive, Index: 3, Name: "create.xml", Err: frame.ErrTruncated}
	want := "client: receive failed at template 3 (create.xml): frame: framing error: truncated frame"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	err = &Error{Phase: PhaseConnect, Err: session.ErrConnect}
	if err.Error() != "client: connect failed: session: connection error: connect" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}
