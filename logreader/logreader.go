// Package logreader discovers Zeek-style log files under a set of search
// paths and tails them incrementally, emitting one Record per line. It
// understands both JSON-Lines logs and legacy TSV logs with a
// `#fields`/`#types` header, auto-detected per file the way the teacher's
// importer/parser.go does it, and tolerates log rotation (a file that
// shrinks is re-read from offset zero).
package logreader

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"

	"github.com/netwatch/telemetry/zeektypes"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is one parsed log line, tagged with its source log type and the
// connection UID it carries (empty if the line type has none).
type Record struct {
	Type      zeektypes.LogType
	Timestamp time.Time
	UID       string
	Path      string
	Data      zeektypes.Record
}

var newRecord = map[zeektypes.LogType]func() zeektypes.Record{
	zeektypes.LogTypeConn:   func() zeektypes.Record { return &zeektypes.Conn{} },
	zeektypes.LogTypeDNS:    func() zeektypes.Record { return &zeektypes.DNS{} },
	zeektypes.LogTypeHTTP:   func() zeektypes.Record { return &zeektypes.HTTP{} },
	zeektypes.LogTypeTLS:    func() zeektypes.Record { return &zeektypes.TLS{} },
	zeektypes.LogTypeNotice: func() zeektypes.Record { return &zeektypes.Notice{} },
	zeektypes.LogTypeFiles:  func() zeektypes.Record { return &zeektypes.Files{} },
	zeektypes.LogTypeWeird:  func() zeektypes.Record { return &zeektypes.Weird{} },
}

type fileState struct {
	path         string
	logType      zeektypes.LogType
	offset       int64
	size         int64
	gzDone       bool
	formatKnown  bool
	isJSON       bool
	isTSV        bool
	rawFields     string
	rawTypes      string
	rawFieldTypes []string
	fieldOrder    []string
	headerToIdx   map[string]int
}

// Reader polls a set of directories for Zeek log files and tails them.
type Reader struct {
	fs           afero.Fs
	searchPaths  []string
	pollInterval time.Duration
	bufBytes     int
	states       map[string]*fileState

	activeDir string
}

// New constructs a Reader. bufBytes sets the size of the buffered reader used
// to read lines; it does not cap line length, and a line longer than the
// buffer is still read whole.
func New(fs afero.Fs, searchPaths []string, pollInterval time.Duration, bufBytes int) *Reader {
	return &Reader{
		fs:           fs,
		searchPaths:  searchPaths,
		pollInterval: pollInterval,
		bufBytes:     bufBytes,
		states:       make(map[string]*fileState),
	}
}

// Run polls until ctx is cancelled, emitting Records to emit and non-fatal
// per-line errors to errc. Within one file, Records are emitted in line
// order (Testable Property 6: per-file FIFO); there is no ordering guarantee
// across files.
func (r *Reader) Run(ctx context.Context, emit chan<- Record, errc chan<- error) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.scanOnce(emit, errc)
		}
	}
}

func (r *Reader) scanOnce(emit chan<- Record, errc chan<- error) {
	dir, err := r.ensureActiveDir()
	if err != nil {
		errc <- err
		return
	}

	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		errc <- fmt.Errorf("logreader: reading directory %s: %w", dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		logType, ok := detectLogType(entry.Name())
		if !ok {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		st, ok := r.states[path]
		if !ok {
			st = &fileState{path: path, logType: logType, headerToIdx: make(map[string]int)}
			r.states[path] = st
		}
		r.tailFile(st, emit, errc)
	}
}

// ensureActiveDir implements the §4.1 discovery algorithm: the first
// configured search path that exists and contains at least one recognized
// log file becomes the active spool directory; if none qualifies, the
// first search path is created and used. Discovery runs once and is
// cached, matching the "an active log directory" (singular) contract.
func (r *Reader) ensureActiveDir() (string, error) {
	if r.activeDir != "" {
		return r.activeDir, nil
	}
	if len(r.searchPaths) == 0 {
		return "", fmt.Errorf("logreader: no search paths configured")
	}

	for _, dir := range r.searchPaths {
		info, err := r.fs.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		entries, err := afero.ReadDir(r.fs, dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if _, ok := detectLogType(entry.Name()); ok {
				r.activeDir = dir
				return r.activeDir, nil
			}
		}
	}

	first := r.searchPaths[0]
	if err := r.fs.MkdirAll(first, 0o755); err != nil {
		return "", fmt.Errorf("logreader: creating %s: %w", first, err)
	}
	r.activeDir = first
	return r.activeDir, nil
}

func detectLogType(name string) (zeektypes.LogType, bool) {
	base := strings.TrimSuffix(name, ".gz")
	prefix := base
	if idx := strings.IndexByte(base, '.'); idx >= 0 {
		prefix = base[:idx]
	}
	lt, ok := zeektypes.FilePrefix[prefix]
	return lt, ok
}

func (r *Reader) tailFile(st *fileState, emit chan<- Record, errc chan<- error) {
	if strings.HasSuffix(st.path, ".gz") {
		if st.gzDone {
			return
		}
		f, err := r.fs.Open(st.path)
		if err != nil {
			errc <- fmt.Errorf("logreader: opening %s: %w", st.path, err)
			return
		}
		defer f.Close()
		gzr, err := gzip.NewReader(f)
		if err != nil {
			errc <- fmt.Errorf("logreader: opening gzip %s: %w", st.path, err)
			return
		}
		defer gzr.Close()
		r.consume(gzr, st, emit, errc)
		st.gzDone = true
		return
	}

	info, err := r.fs.Stat(st.path)
	if err != nil {
		errc <- fmt.Errorf("logreader: stat %s: %w", st.path, err)
		return
	}
	size := info.Size()
	if size < st.offset {
		// Rotation: file shrank, start over from byte zero.
		st.offset = 0
		st.formatKnown = false
		st.isJSON = false
		st.isTSV = false
		st.rawFields = ""
		st.rawTypes = ""
		st.fieldOrder = nil
		st.headerToIdx = make(map[string]int)
	}
	if size == st.offset {
		return
	}

	f, err := r.fs.Open(st.path)
	if err != nil {
		errc <- fmt.Errorf("logreader: opening %s: %w", st.path, err)
		return
	}
	defer f.Close()
	if _, err := f.Seek(st.offset, io.SeekStart); err != nil {
		errc <- fmt.Errorf("logreader: seeking %s: %w", st.path, err)
		return
	}
	consumed := r.consume(f, st, emit, errc)
	st.offset += consumed
	st.size = size
}

// consume reads complete lines from reader and returns the number of bytes
// consumed. A trailing line with no terminating newline is left unconsumed
// so a writer mid-append never has its partial line split.
func (r *Reader) consume(reader io.Reader, st *fileState, emit chan<- Record, errc chan<- error) int64 {
	br := bufio.NewReaderSize(reader, r.bufBytes)
	var consumed int64
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			errc <- fmt.Errorf("logreader: reading %s: %w", st.path, err)
			break
		}
		consumed += int64(len(line))
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			continue
		}
		r.handleLine(trimmed, st, emit, errc)
	}
	return consumed
}

func (r *Reader) handleLine(line string, st *fileState, emit chan<- Record, errc chan<- error) {
	if !st.formatKnown {
		switch {
		case line[0] == '#':
			if err := parseHeaderLine(line, st); err != nil {
				errc <- fmt.Errorf("logreader: parsing TSV header of %s: %w", st.path, err)
			}
			if st.rawFields != "" && st.rawTypes != "" {
				if err := mapHeader(st); err != nil {
					errc <- fmt.Errorf("logreader: mapping TSV header of %s: %w", st.path, err)
					return
				}
				st.isTSV = true
				st.formatKnown = true
			}
			return
		case line[0] == '{':
			st.isJSON = true
			st.formatKnown = true
		default:
			errc <- fmt.Errorf("logreader: %s: unrecognized log format (not JSON or TSV)", st.path)
			return
		}
	}

	if st.isTSV && line[0] == '#' {
		return
	}

	factory, ok := newRecord[st.logType]
	if !ok {
		return
	}
	rec := factory()

	var err error
	if st.isJSON {
		err = decodeJSONLine(line, rec)
	} else {
		err = decodeTSVLine(line, st, rec)
	}
	if err != nil {
		errc <- fmt.Errorf("logreader: %s: %w", st.path, err)
		return
	}

	rec.SetLogPath(st.path)
	emit <- Record{
		Type:      st.logType,
		Timestamp: time.Unix(0, int64(rec.Seconds()*float64(time.Second))),
		UID:       rec.UID(),
		Path:      st.path,
		Data:      rec,
	}
}

func parseHeaderLine(line string, st *fileState) error {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil
	}
	name := fields[0][1:]
	switch name {
	case "fields":
		st.rawFields = line
	case "types":
		st.rawTypes = line
	}
	return nil
}

func mapHeader(st *fileState) error {
	fieldNames := strings.Fields(st.rawFields)[1:]
	fieldTypes := strings.Fields(st.rawTypes)[1:]
	if len(fieldNames) != len(fieldTypes) {
		return fmt.Errorf("mismatched #fields/#types: %d vs %d", len(fieldNames), len(fieldTypes))
	}
	st.fieldOrder = fieldNames
	st.headerToIdx = make(map[string]int, len(fieldNames))
	for i, name := range fieldNames {
		st.headerToIdx[name] = i
	}
	st.rawFieldTypes = fieldTypes
	return nil
}

func decodeJSONLine(line string, rec zeektypes.Record) error {
	return jsonAPI.Unmarshal([]byte(line), rec)
}

// structFieldIndexByZeekTag builds a name->struct-field-index map from a
// zeektypes.Record's `zeek` tags, the same role the teacher's mapHeader
// reflection walk plays.
func structFieldIndexByZeekTag(rec zeektypes.Record) (map[string]int, map[string]string) {
	t := reflect.TypeOf(rec).Elem()
	idx := make(map[string]int, t.NumField())
	kind := make(map[string]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("zeek")
		if name == "" {
			continue
		}
		idx[name] = i
		kind[name] = f.Tag.Get("zeektype")
	}
	return idx, kind
}

func decodeTSVLine(line string, st *fileState, rec zeektypes.Record) error {
	structIdx, structKind := structFieldIndexByZeekTag(rec)
	fields := strings.Split(line, "\t")
	if len(fields) != len(st.fieldOrder) {
		return fmt.Errorf("expected %d TSV fields, got %d", len(st.fieldOrder), len(fields))
	}
	value := reflect.ValueOf(rec).Elem()
	for i, headerName := range st.fieldOrder {
		fieldIdx, ok := structIdx[headerName]
		if !ok {
			continue
		}
		raw := fields[i]
		if raw == "-" || raw == "(empty)" {
			continue
		}
		if err := setField(value.Field(fieldIdx), structKind[headerName], raw); err != nil {
			return fmt.Errorf("field %q: %w", headerName, err)
		}
	}
	return nil
}

func setField(field reflect.Value, zeekType string, raw string) error {
	switch zeekType {
	case "time", "interval":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case "count", "port":
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		if field.CanInt() {
			field.SetInt(int64(n))
		} else {
			field.SetUint(n)
		}
	case "bool":
		field.SetBool(raw == "T" || raw == "true")
	default:
		field.SetString(raw)
	}
	return nil
}
