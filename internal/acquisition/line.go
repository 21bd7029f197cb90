package acquisition

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/racedash/internal/channel"
	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/signal"
)

// DefaultReadTimeout bounds a single frame read on links that support deadlines.
const DefaultReadTimeout = 250 * time.Millisecond

// FileDriver reads newline-delimited frames from a character device, pipe or
// regular file. The line speed of serial devices is configured outside the
// process; Baud is kept for logging.
type FileDriver struct {
	mu          sync.Mutex
	file        *os.File
	reader      *bufio.Reader
	pending     []byte
	readTimeout time.Duration
	Port        string
	Baud        int
}

// OpenFile is a DriverOpener for FileDriver.
func OpenFile(cfg Config) (Driver, error) {
	file, err := os.OpenFile(cfg.Port, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.New().Wrap(ErrOpenDriver, err).WithData(cfg.Port)
	}

	return &FileDriver{
		file:        file,
		reader:      bufio.NewReader(file),
		readTimeout: DefaultReadTimeout,
		Port:        cfg.Port,
		Baud:        cfg.Baud,
	}, nil
}

// ReadFrame returns the next line without its terminator. A read deadline is
// set where the file supports one; an expired deadline is transient and the
// bytes read so far are kept for the next call. An unterminated last line is
// returned before io.EOF.
func (d *FileDriver) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Regular files reject deadlines; reads on them never block anyway.
	_ = d.file.SetReadDeadline(time.Now().Add(d.readTimeout))

	line, err := d.reader.ReadBytes('\n')
	if len(d.pending) > 0 {
		line = append(d.pending, line...)
		d.pending = nil
	}
	if err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			d.pending = line
			return nil, Transient(err)
		case errors.Is(err, io.EOF) && len(line) > 0:
			return bytes.TrimRight(line, "\r"), nil
		}

		return nil, err
	}

	return bytes.TrimRight(line, "\r\n"), nil
}

func (d *FileDriver) Close() error {
	return d.file.Close()
}

// LineDecoder parses frames of space separated name=value pairs, for example
// "rpm=4200 speed=42 throttle=30". Channel names follow channel.Parse.
type LineDecoder struct{}

func (LineDecoder) Decode(frame []byte) (signal.Batch, error) {
	fields := strings.Fields(string(frame))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	batch := make(signal.Batch, len(fields))
	for _, field := range fields {
		name, raw, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("malformed field %q", field)
		}

		c, err := channel.Parse(name)
		if err != nil {
			return nil, err
		}

		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", c, err)
		}
		batch[c] = value
	}

	return batch, nil
}
