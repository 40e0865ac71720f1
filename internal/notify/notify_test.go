package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"broker-governor/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFill() types.OrderFill {
	return types.OrderFill{
		AccountID:    "AB1234",
		OrderID:      "o-1",
		InstrumentID: "408065",
		Ticker:       "INFY",
		Direction:    types.DirectionSell,
		Price:        decimal.RequireFromString("1501.25"),
		Quantity:     4,
		Status:       "COMPLETE",
		Time:         time.Date(2024, 3, 1, 4, 30, 0, 0, time.UTC),
	}
}

func TestFormatFill(t *testing.T) {
	assert.Equal(t, "SELL 4 INFY @ 1501.25\naccount AB1234, order o-1 (COMPLETE)", FormatFill(sampleFill()))

	f := sampleFill()
	f.Ticker = ""
	assert.Contains(t, FormatFill(f), "SELL 4 408065 @")
}

func TestTelegramSendsMessage(t *testing.T) {
	var got sendMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:abc/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: "-100", BaseURL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, tg.Notify(context.Background(), "hello"))
	assert.Equal(t, "-100", got.ChatID)
	assert.Equal(t, "hello", got.Text)
	assert.True(t, got.DisableWebPagePreview)
}

func TestTelegramReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "t", ChatID: "c", BaseURL: srv.URL})
	require.NoError(t, err)

	err = tg.Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestNewTelegramValidates(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{ChatID: "c"})
	assert.Error(t, err)
	_, err = NewTelegram(TelegramConfig{Token: "t"})
	assert.Error(t, err)
}

func readLines(t *testing.T, p string) []map[string]any {
	t.Helper()
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestJournalWritesDailyFiles(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(dir)
	require.NoError(t, err)
	defer j.Close()

	// 20:00 UTC is already the next day in IST
	now := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	require.NoError(t, j.RecordFill(sampleFill()))
	require.NoError(t, j.Notify(context.Background(), "session started"))

	lines := readLines(t, filepath.Join(dir, "2024-03-02.jsonl"))
	require.Len(t, lines, 2)
	assert.Equal(t, "fill", lines[0]["msg"])
	assert.Equal(t, "INFY", lines[0]["ticker"])
	assert.Equal(t, "SELL", lines[0]["side"])
	assert.Equal(t, "1501.25", lines[0]["price"])
	assert.Equal(t, "session started", lines[1]["text"])

	now = now.Add(24 * time.Hour)
	require.NoError(t, j.RecordFill(sampleFill()))
	assert.FileExists(t, filepath.Join(dir, "2024-03-03.jsonl"))
	assert.Len(t, readLines(t, filepath.Join(dir, "2024-03-02.jsonl")), 2)
}

func TestJournalCompressOlder(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(dir)
	require.NoError(t, err)
	defer j.Close()
	j.now = func() time.Time { return time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC) }

	old := filepath.Join(dir, "2024-03-01.jsonl")
	recent := filepath.Join(dir, "2024-03-08.jsonl")
	require.NoError(t, os.WriteFile(old, []byte(`{"msg":"fill"}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(recent, []byte(`{"msg":"fill"}`+"\n"), 0o644))

	require.NoError(t, j.CompressOlder(7))
	assert.NoFileExists(t, old)
	assert.FileExists(t, old+".gz")
	assert.FileExists(t, recent)
}

type recordingNotifier struct {
	texts chan string
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, text string) error {
	if r.texts != nil {
		r.texts <- text
	}
	return r.err
}

func TestMultiJoinsErrors(t *testing.T) {
	a := errors.New("a down")
	b := errors.New("b down")
	ok := &recordingNotifier{texts: make(chan string, 1)}

	err := Multi{&recordingNotifier{err: a}, ok, &recordingNotifier{err: b}}.Notify(context.Background(), "x")
	assert.ErrorIs(t, err, a)
	assert.ErrorIs(t, err, b)
	assert.Equal(t, "x", <-ok.texts)

	assert.NoError(t, Multi{ok}.Notify(context.Background(), "y"))
}

func TestFillHandlerNotifiesAsync(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(dir)
	require.NoError(t, err)
	defer j.Close()

	n := &recordingNotifier{texts: make(chan string, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	FillHandler(n, j)(ctx, sampleFill())
	cancel()

	select {
	case text := <-n.texts:
		assert.Contains(t, text, "INFY")
	case <-time.After(2 * time.Second):
		t.Fatal("notification not sent")
	}
}

func TestFormatPositions(t *testing.T) {
	positions := []types.Position{
		{InstrumentID: "2953217", Ticker: "TCS", Quantity: 2,
			AveragePrice: decimal.NewFromInt(3500), LastPrice: decimal.NewFromInt(3450)},
		{InstrumentID: "738561", Ticker: "RELIANCE", Quantity: 0,
			AveragePrice: decimal.NewFromInt(2900), LastPrice: decimal.NewFromInt(2950)},
		{InstrumentID: "408065", Ticker: "INFY", Quantity: 4,
			AveragePrice: decimal.NewFromInt(1500), LastPrice: decimal.NewFromInt(1510)},
	}

	want := "# AB1234\n" +
		"Value: 12940.00\n" +
		"P&L: -60.00 (-0.46%)\n" +
		"\n" +
		"INFY (408065)\n" +
		"1500.00 → 1510.00 (x 4)\n" +
		"P&L: 40.00\n" +
		"\n" +
		"TCS (2953217)\n" +
		"3500.00 → 3450.00 (x 2)\n" +
		"P&L: -100.00"
	assert.Equal(t, want, FormatPositions("AB1234", positions))

	assert.Equal(t, "# AB1234\nNo open positions", FormatPositions("AB1234", nil))
}

type stubPositions map[string][]types.Position

func (s stubPositions) Positions(_ context.Context, accountID string) ([]types.Position, error) {
	p, ok := s[accountID]
	if !ok {
		return nil, errors.New("unknown account")
	}
	return p, nil
}

func TestSendPositionsReportsEachAccount(t *testing.T) {
	src := stubPositions{
		"AB1234": {{InstrumentID: "408065", Ticker: "INFY", Quantity: 1,
			AveragePrice: decimal.NewFromInt(1500), LastPrice: decimal.NewFromInt(1500)}},
		"CD5678": nil,
	}
	n := &recordingNotifier{texts: make(chan string, 3)}

	err := SendPositions(context.Background(), src, n, []string{"AB1234", "ZZ0000", "CD5678"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ZZ0000")

	require.Len(t, n.texts, 2)
	assert.Contains(t, <-n.texts, "INFY (408065)")
	assert.Equal(t, "# CD5678\nNo open positions", <-n.texts)
}

func TestRunPositionReportsTicks(t *testing.T) {
	src := stubPositions{"AB1234": nil}
	n := &recordingNotifier{texts: make(chan string, 16)}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunPositionReports(ctx, src, n, []string{"AB1234"}, 5*time.Millisecond)
		close(done)
	}()

	select {
	case text := <-n.texts:
		assert.Equal(t, "# AB1234\nNo open positions", text)
	case <-time.After(2 * time.Second):
		t.Fatal("no report sent")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop")
	}
}
