package notify

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"broker-governor/internal/interfaces"
	"broker-governor/internal/types"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var ist = time.FixedZone("IST", 19800)

const journalExt = ".jsonl"

// Journal appends one JSON line per fill or message to a file per trading
// day (IST). It implements Notifier so it can sit beside Telegram in a Multi.
type Journal struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
	log  *zap.Logger
}

var _ interfaces.Notifier = (*Journal)(nil)

func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	return &Journal{dir: dir, now: time.Now}, nil
}

func (j *Journal) path(day string) string {
	return filepath.Join(j.dir, day+journalExt)
}

// loggerLocked returns the zap logger for today's file, rolling over at
// midnight IST. Caller holds j.mu.
func (j *Journal) loggerLocked() (*zap.Logger, error) {
	day := j.now().In(ist).Format("2006-01-02")
	if j.log != nil && day == j.day {
		return j.log, nil
	}
	if err := j.closeLocked(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(j.path(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.InfoLevel)

	j.day, j.file, j.log = day, f, zap.New(core)
	return j.log, nil
}

func (j *Journal) RecordFill(fill types.OrderFill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	log, err := j.loggerLocked()
	if err != nil {
		return err
	}
	log.Info("fill",
		zap.String("account_id", fill.AccountID),
		zap.String("order_id", fill.OrderID),
		zap.String("instrument_id", fill.InstrumentID),
		zap.String("ticker", fill.Ticker),
		zap.String("side", fill.Direction.String()),
		zap.Int64("qty", fill.Quantity),
		zap.String("price", fill.Price.String()),
		zap.String("status", fill.Status),
		zap.Time("fill_time", fill.Time),
	)
	return nil
}

func (j *Journal) Notify(_ context.Context, text string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	log, err := j.loggerLocked()
	if err != nil {
		return err
	}
	log.Info("message", zap.String("text", text))
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *Journal) closeLocked() error {
	if j.file == nil {
		return nil
	}
	_ = j.log.Sync()
	err := j.file.Close()
	j.file, j.log, j.day = nil, nil, ""
	return err
}

// CompressOlder gzips journal files older than retentionDays and removes the
// originals. Today's file is never touched.
func (j *Journal) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	j.mu.Lock()
	current := j.day
	j.mu.Unlock()

	cutoff := j.now().In(ist).AddDate(0, 0, -retentionDays).Format("2006-01-02")

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != journalExt {
			continue
		}
		day := strings.TrimSuffix(name, journalExt)
		// ISO dates compare lexically
		if day == current || day >= cutoff {
			continue
		}
		if err := gzipFile(filepath.Join(j.dir, name)); err != nil {
			return fmt.Errorf("compress %s: %w", name, err)
		}
	}
	return nil
}

func gzipFile(p string) error {
	gz := p + ".gz"
	if _, err := os.Stat(gz); err == nil {
		return os.Remove(p)
	}

	in, err := os.Open(p)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(gz, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		_ = os.Remove(gz)
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(p)
}
