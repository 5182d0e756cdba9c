package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nguyentantai21042004/voicebrief/internal/admission"
	"github.com/nguyentantai21042004/voicebrief/internal/logger"
	"github.com/nguyentantai21042004/voicebrief/internal/optout"
	"github.com/nguyentantai21042004/voicebrief/internal/summarizer"
	"github.com/nguyentantai21042004/voicebrief/internal/usage"
	"github.com/nguyentantai21042004/voicebrief/internal/whatsapp"
)

// --- fakes ---

type sentText struct {
	To   string
	Body string
}

type fakeGateway struct {
	mu        sync.Mutex
	sent      []sentText
	media     whatsapp.Media
	mediaErr  error
	download  []byte
	dlErr     error
	sendErr   error
	mediaGets int
	downloads int
}

func (g *fakeGateway) SendText(ctx context.Context, to, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.sent = append(g.sent, sentText{To: to, Body: body})
	return nil
}

func (g *fakeGateway) GetMedia(ctx context.Context, mediaID string) (whatsapp.Media, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mediaGets++
	return g.media, g.mediaErr
}

func (g *fakeGateway) Download(ctx context.Context, url, dst string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.downloads++
	if g.dlErr != nil {
		return 0, g.dlErr
	}
	if err := os.WriteFile(dst, g.download, 0644); err != nil {
		return 0, err
	}
	return int64(len(g.download)), nil
}

func (g *fakeGateway) sentBodies() []sentText {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentText(nil), g.sent...)
}

type fakeRegistry struct {
	mu     sync.Mutex
	out    map[string]bool
	outErr error
}

func (r *fakeRegistry) IsOptedOut(ctx context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out[id]
}

func (r *fakeRegistry) OptOut(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outErr != nil {
		return r.outErr
	}
	if r.out == nil {
		r.out = make(map[string]bool)
	}
	r.out[id] = true
	return nil
}

func (r *fakeRegistry) OptIn(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.out, id)
	return nil
}

type fakeAdmission struct {
	mu        sync.Mutex
	decision  admission.Decision
	admits    int
	completes int
}

func (a *fakeAdmission) TryAdmit(id string, now time.Time) admission.Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.admits++
	return a.decision
}

func (a *fakeAdmission) Complete(id string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completes++
}

func (a *fakeAdmission) StartJanitor(ctx context.Context) {}

type fakeRecorder struct {
	mu     sync.Mutex
	events []usage.Event
}

func (r *fakeRecorder) Record(ctx context.Context, ev usage.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *fakeRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

type fakeTranscoder struct {
	mu      sync.Mutex
	passMP3 bool
	err     error
	output  []byte
	calls   int
}

func (t *fakeTranscoder) NeedsTranscode(mime string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.Split(mime, ";")[0]))
	if t.passMP3 && (base == "audio/mpeg" || base == "audio/mp3") {
		return false
	}
	return true
}

func (t *fakeTranscoder) Transcode(ctx context.Context, src, dst string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.err != nil {
		return t.err
	}
	out := t.output
	if out == nil {
		out = []byte("mp3-bytes")
	}
	return os.WriteFile(dst, out, 0644)
}

type fakeSummarizer struct {
	mu      sync.Mutex
	text    string
	err     error
	calls   int
	gotPath string
	gotMime string
	gotSize int64
}

func (s *fakeSummarizer) Summarize(ctx context.Context, path, mime string, size int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.gotPath, s.gotMime, s.gotSize = path, mime, size
	return s.text, s.err
}

// --- harness ---

type deps struct {
	gateway    *fakeGateway
	registry   *fakeRegistry
	admission  *fakeAdmission
	recorder   *fakeRecorder
	transcoder *fakeTranscoder
	summarizer *fakeSummarizer
}

func newTestProcessor(t *testing.T, d *deps) *implProcessor {
	t.Helper()
	if d.gateway == nil {
		d.gateway = &fakeGateway{
			media:    whatsapp.Media{ID: "media-1", URL: "https://cdn/m1", MimeType: "audio/ogg; codecs=opus", FileSize: 4096},
			download: []byte("OggS voice bytes"),
		}
	}
	if d.registry == nil {
		d.registry = &fakeRegistry{}
	}
	if d.admission == nil {
		d.admission = &fakeAdmission{decision: admission.Decision{Admitted: true}}
	}
	if d.recorder == nil {
		d.recorder = &fakeRecorder{}
	}
	if d.transcoder == nil {
		d.transcoder = &fakeTranscoder{passMP3: true}
	}
	if d.summarizer == nil {
		d.summarizer = &fakeSummarizer{text: "Sender confirms dinner at 7."}
	}

	p := New(Options{
		Gateway:        d.gateway,
		Registry:       d.registry,
		Admission:      d.admission,
		Usage:          d.recorder,
		Transcoder:     d.transcoder,
		Summarizer:     d.summarizer,
		Logger:         logger.New("error"),
		TempRoot:       t.TempDir(),
		ProcessTimeout: 30 * time.Second,
		MaxConcurrent:  2,
	})
	return p.(*implProcessor)
}

func audioMessage(from, mediaID string) whatsapp.Message {
	return whatsapp.Message{
		From:  from,
		Type:  "audio",
		Audio: &whatsapp.AudioContent{ID: mediaID, MimeType: "audio/ogg; codecs=opus", Voice: true},
	}
}

func textMessage(from, body string) whatsapp.Message {
	return whatsapp.Message{
		From: from,
		Type: "text",
		Text: &whatsapp.TextBody{Body: body},
	}
}

// --- tests ---

func TestAudioSuccessSendsOneSummaryReply(t *testing.T) {
	d := &deps{}
	p := newTestProcessor(t, d)

	p.handleMessage(context.Background(), audioMessage("15551234", "media-1"))

	sent := d.gateway.sentBodies()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want exactly 1", len(sent))
	}
	if sent[0].To != "15551234" {
		t.Errorf("reply to %s, want 15551234", sent[0].To)
	}
	if !strings.Contains(sent[0].Body, "Sender confirms dinner at 7.") {
		t.Errorf("reply body %q missing summary", sent[0].Body)
	}
	if !strings.Contains(sent[0].Body, summaryFooter) {
		t.Errorf("reply body %q missing compliance footer", sent[0].Body)
	}

	kinds := d.recorder.kinds()
	if len(kinds) != 1 || kinds[0] != usage.KindSummarySent {
		t.Errorf("events = %v, want [summary_sent]", kinds)
	}
	if d.admission.completes != 1 {
		t.Errorf("Complete called %d times, want 1", d.admission.completes)
	}
}

func TestOptedOutUserIsDroppedSilently(t *testing.T) {
	d := &deps{registry: &fakeRegistry{out: map[string]bool{"15551234": true}}}
	p := newTestProcessor(t, d)

	p.handleMessage(context.Background(), audioMessage("15551234", "media-1"))

	if n := len(d.gateway.sentBodies()); n != 0 {
		t.Errorf("sent %d messages, want 0", n)
	}
	if d.gateway.mediaGets != 0 || d.gateway.downloads != 0 {
		t.Error("opted-out user triggered gateway media calls")
	}
	if d.transcoder.calls != 0 {
		t.Error("opted-out user reached the transcoder")
	}
	if d.summarizer.calls != 0 {
		t.Error("opted-out user reached the summarizer")
	}
	if len(d.recorder.kinds()) != 0 {
		t.Errorf("events = %v, want none", d.recorder.kinds())
	}
}

func TestRateLimitedSendsWaitNoticeOnly(t *testing.T) {
	d := &deps{admission: &fakeAdmission{decision: admission.Decision{Admitted: false, RetryAfter: 9 * time.Second}}}
	p := newTestProcessor(t, d)

	p.handleMessage(context.Background(), audioMessage("15551234", "media-1"))

	sent := d.gateway.sentBodies()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1 wait notice", len(sent))
	}
	if !strings.Contains(sent[0].Body, "9 seconds") {
		t.Errorf("wait notice %q missing retry hint", sent[0].Body)
	}
	if d.gateway.mediaGets != 0 {
		t.Error("rejected request still fetched media metadata")
	}
	if d.summarizer.calls != 0 {
		t.Error("rejected request reached the summarizer")
	}

	kinds := d.recorder.kinds()
	if len(kinds) != 1 || kinds[0] != usage.KindRateLimited {
		t.Errorf("events = %v, want [rate_limited]", kinds)
	}
	if d.admission.completes != 0 {
		t.Error("Complete must not run for rejected requests")
	}
}

func TestEmptySummarySendsFallback(t *testing.T) {
	d := &deps{summarizer: &fakeSummarizer{err: summarizer.ErrNoSummary}}
	p := newTestProcessor(t, d)

	p.handleMessage(context.Background(), audioMessage("15551234", "media-1"))

	sent := d.gateway.sentBodies()
	if len(sent) != 1 || sent[0].Body != replyNoSpeech {
		t.Fatalf("sent = %v, want the could-not-understand fallback", sent)
	}

	r := d.recorder
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) != 1 {
		t.Fatalf("events = %d, want 1", len(r.events))
	}
	ev := r.events[0]
	if ev.Kind != usage.KindSummaryFailed || ev.Success == nil || *ev.Success {
		t.Errorf("event = %+v, want summary_failed with success:false", ev)
	}
}

func TestPipelineFailureSendsApologyAndAudits(t *testing.T) {
	d := &deps{gateway: &fakeGateway{mediaErr: errors.New("status 500")}}
	p := newTestProcessor(t, d)

	p.handleMessage(context.Background(), audioMessage("15551234", "media-1"))

	sent := d.gateway.sentBodies()
	if len(sent) != 1 || sent[0].Body != replyFailure {
		t.Fatalf("sent = %v, want generic apology", sent)
	}

	kinds := d.recorder.kinds()
	if len(kinds) != 1 || kinds[0] != usage.KindSummaryFailed {
		t.Errorf("events = %v, want [summary_failed]", kinds)
	}
	if d.admission.completes != 1 {
		t.Error("Complete must run on failure too")
	}
}

func TestTranscodeFailureConverges(t *testing.T) {
	d := &deps{transcoder: &fakeTranscoder{passMP3: true, err: errors.New("ffmpeg: invalid data")}}
	p := newTestProcessor(t, d)

	p.handleMessage(context.Background(), audioMessage("15551234", "media-1"))

	sent := d.gateway.sentBodies()
	if len(sent) != 1 || sent[0].Body != replyFailure {
		t.Fatalf("sent = %v, want generic apology", sent)
	}
	if d.summarizer.calls != 0 {
		t.Error("failed transcode must abort before the summarizer")
	}
}

func TestOggIsTranscodedBeforeSummarize(t *testing.T) {
	d := &deps{
		transcoder: &fakeTranscoder{passMP3: true, output: []byte("normalized mp3 bytes")},
	}
	p := newTestProcessor(t, d)

	p.handleMessage(context.Background(), audioMessage("15551234", "media-1"))

	if d.transcoder.calls != 1 {
		t.Fatalf("transcoder calls = %d, want 1", d.transcoder.calls)
	}
	if filepath.Base(d.summarizer.gotPath) != "normalized.mp3" {
		t.Errorf("summarizer got %s, want normalized.mp3", d.summarizer.gotPath)
	}
	if d.summarizer.gotMime != "audio/mpeg" {
		t.Errorf("summarizer mime = %s, want audio/mpeg", d.summarizer.gotMime)
	}
	if d.summarizer.gotSize != int64(len("normalized mp3 bytes")) {
		t.Errorf("summarizer size = %d, want transcoded size", d.summarizer.gotSize)
	}
}

func TestMP3PassesThroughUnchanged(t *testing.T) {
	d := &deps{
		gateway: &fakeGateway{
			media:    whatsapp.Media{ID: "media-1", URL: "https://cdn/m1", MimeType: "audio/mpeg", FileSize: 9000},
			download: []byte("mp3 source"),
		},
		transcoder: &fakeTranscoder{passMP3: true},
	}
	p := newTestProcessor(t, d)

	p.handleMessage(context.Background(), audioMessage("15551234", "media-1"))

	if d.transcoder.calls != 0 {
		t.Errorf("transcoder calls = %d, want 0 for mp3 source", d.transcoder.calls)
	}
	if d.summarizer.gotMime != "audio/mpeg" {
		t.Errorf("summarizer mime = %s", d.summarizer.gotMime)
	}
	if d.summarizer.gotSize != 9000 {
		t.Errorf("summarizer size = %d, want declared 9000", d.summarizer.gotSize)
	}
}

func TestScratchDirRemoved(t *testing.T) {
	d := &deps{}
	p := newTestProcessor(t, d)

	p.handleMessage(context.Background(), audioMessage("15551234", "media-1"))

	entries, err := os.ReadDir(p.tempRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dirs left behind: %v", entries)
	}
}

func TestScratchDirRemovedOnFailure(t *testing.T) {
	d := &deps{summarizer: &fakeSummarizer{err: errors.New("boom")}}
	p := newTestProcessor(t, d)

	p.handleMessage(context.Background(), audioMessage("15551234", "media-1"))

	entries, err := os.ReadDir(p.tempRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dirs left behind after failure: %v", entries)
	}
}

func TestStopStartRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := optout.New(filepath.Join(t.TempDir(), "optout.json"), logger.New("error"))
	d := &deps{registry: &fakeRegistry{}}
	p := newTestProcessor(t, d)
	p.registry = reg

	p.handleMessage(ctx, textMessage("15551234", "STOP"))
	if !reg.IsOptedOut(ctx, "15551234") {
		t.Fatal("STOP did not opt the user out")
	}

	// Audio is now dropped
	p.handleMessage(ctx, audioMessage("15551234", "media-1"))
	if d.summarizer.calls != 0 {
		t.Error("opted-out audio reached the summarizer")
	}

	p.handleMessage(ctx, textMessage("15551234", "/start"))
	if reg.IsOptedOut(ctx, "15551234") {
		t.Fatal("START did not opt the user back in")
	}

	// Prior admission behavior restored
	p.handleMessage(ctx, audioMessage("15551234", "media-1"))
	if d.summarizer.calls != 1 {
		t.Error("opted-in audio did not reach the summarizer")
	}

	kinds := d.recorder.kinds()
	if kinds[0] != usage.KindOptOut || kinds[1] != usage.KindOptIn {
		t.Errorf("events = %v, want opt_out then opt_in first", kinds)
	}
}

func TestTextCommandVocabulary(t *testing.T) {
	tests := []struct {
		body      string
		wantReply string
		wantKind  string
	}{
		{"stop", replyOptOutDone, usage.KindOptOut},
		{"STOP", replyOptOutDone, usage.KindOptOut},
		{"/stop", replyOptOutDone, usage.KindOptOut},
		{"start", replyOptInDone, usage.KindOptIn},
		{"  Start  ", replyOptInDone, usage.KindOptIn},
		{"human", replyEscalation, usage.KindEscalation},
		{"/HUMAN", replyEscalation, usage.KindEscalation},
		{"hello there", replyHelp, usage.KindHelp},
		{"", replyHelp, usage.KindHelp},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			d := &deps{}
			p := newTestProcessor(t, d)

			p.handleMessage(context.Background(), textMessage("15551234", tt.body))

			sent := d.gateway.sentBodies()
			if len(sent) != 1 || sent[0].Body != tt.wantReply {
				t.Fatalf("reply = %v, want %q", sent, tt.wantReply)
			}
			kinds := d.recorder.kinds()
			if len(kinds) != 1 || kinds[0] != tt.wantKind {
				t.Errorf("events = %v, want [%s]", kinds, tt.wantKind)
			}
		})
	}
}

func TestOptOutSaveFailureTellsUser(t *testing.T) {
	d := &deps{registry: &fakeRegistry{outErr: errors.New("disk full")}}
	p := newTestProcessor(t, d)

	p.handleMessage(context.Background(), textMessage("15551234", "stop"))

	sent := d.gateway.sentBodies()
	if len(sent) != 1 || sent[0].Body != replyFailure {
		t.Fatalf("reply = %v, want generic failure", sent)
	}
	if len(d.recorder.kinds()) != 0 {
		t.Error("failed opt-out must not record an opt_out event")
	}
}

func TestDispatchSkipsMalformedMessages(t *testing.T) {
	d := &deps{}
	p := newTestProcessor(t, d)

	payload := whatsapp.WebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []whatsapp.Entry{
			{Changes: []whatsapp.Change{{Value: whatsapp.Value{Messages: []whatsapp.Message{
				{Type: "audio"}, // no sender
				{From: "15551234", Type: "audio"},                        // no media
				{From: "15551234", Type: "reaction"},                     // unknown kind
				{From: "15559999", Type: "text", Text: &whatsapp.TextBody{Body: "human"}}, // valid
			}}}}},
			{}, // no changes at all
		},
	}

	p.Dispatch(context.Background(), payload)
	p.Wait()

	sent := d.gateway.sentBodies()
	if len(sent) != 1 || sent[0].To != "15559999" {
		t.Errorf("sent = %v, want one escalation reply to 15559999", sent)
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	d := &deps{gateway: &fakeGateway{
		media:    whatsapp.Media{ID: "media-1", URL: "https://cdn/m1", MimeType: "audio/mpeg", FileSize: 100},
		download: []byte("mp3"),
	}}
	p := newTestProcessor(t, d)
	d.summarizer.err = errors.New("boom")

	payload := whatsapp.WebhookPayload{
		Entry: []whatsapp.Entry{{Changes: []whatsapp.Change{{Value: whatsapp.Value{Messages: []whatsapp.Message{
			audioMessage("15551111", "media-1"),
			textMessage("15552222", "human"),
		}}}}}},
	}

	p.Dispatch(context.Background(), payload)
	p.Wait()

	// The audio failure produced an apology; the text command still worked.
	var gotEscalation, gotApology bool
	for _, s := range d.gateway.sentBodies() {
		if s.To == "15552222" && s.Body == replyEscalation {
			gotEscalation = true
		}
		if s.To == "15551111" && s.Body == replyFailure {
			gotApology = true
		}
	}
	if !gotEscalation {
		t.Error("text command was affected by the audio failure")
	}
	if !gotApology {
		t.Error("audio failure did not produce an apology")
	}
}
