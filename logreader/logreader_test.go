package logreader

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/netwatch/telemetry/zeektypes"
)

func drain(t *testing.T, fs afero.Fs, dir string) ([]Record, []error) {
	t.Helper()
	reader := New(fs, []string{dir}, time.Millisecond, 64*1024)
	emit := make(chan Record, 64)
	errc := make(chan error, 64)
	reader.scanOnce(emit, errc)
	reader.scanOnce(emit, errc) // second pass must not re-emit already-consumed lines
	close(emit)
	close(errc)

	var records []Record
	for r := range emit {
		records = append(records, r)
	}
	var errs []error
	for e := range errc {
		errs = append(errs, e)
	}
	return records, errs
}

func TestJSONConnLineParsedAndUIDExtracted(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/logs/conn.log", []byte(
		`{"ts":1700000000.123456,"uid":"CXYZ123","id.orig_h":"10.0.0.5","id.orig_p":51234,"id.resp_h":"45.33.32.156","id.resp_p":443,"proto":"tcp","service":"ssl","duration":2.0,"orig_bytes":5000000,"resp_bytes":1200,"conn_state":"SF","history":"ShADad","orig_pkts":40,"orig_ip_bytes":5002000,"resp_pkts":20,"resp_ip_bytes":1400}`+"\n"), 0o644))

	records, errs := drain(t, fs, "/logs")
	require.Empty(t, errs)
	require.Len(t, records, 1)
	require.Equal(t, zeektypes.LogTypeConn, records[0].Type)
	require.Equal(t, "CXYZ123", records[0].UID)
	conn, ok := records[0].Data.(*zeektypes.Conn)
	require.True(t, ok)
	require.Equal(t, uint64(5000000), conn.OrigBytes)
	require.Equal(t, "45.33.32.156", conn.RespH)
}

func TestTSVConnLineParsedViaHeader(t *testing.T) {
	fs := afero.NewMemMapFs()
	tsv := "#separator \\x09\n" +
		"#fields\tts\tuid\tid.orig_h\tid.orig_p\tid.resp_h\tid.resp_p\tproto\tservice\tduration\torig_bytes\tresp_bytes\tconn_state\thistory\torig_pkts\torig_ip_bytes\tresp_pkts\tresp_ip_bytes\n" +
		"#types\ttime\tstring\taddr\tport\taddr\tport\tenum\tstring\tinterval\tcount\tcount\tstring\tstring\tcount\tcount\tcount\tcount\n" +
		"1700000000.000000\tCABC999\t10.0.0.9\t4444\t8.8.8.8\t53\tudp\tdns\t0.01\t60\t120\tSF\tDd\t1\t88\t1\t148\n"
	require.NoError(t, afero.WriteFile(fs, "/logs/conn.log", []byte(tsv), 0o644))

	records, errs := drain(t, fs, "/logs")
	require.Empty(t, errs)
	require.Len(t, records, 1)
	require.Equal(t, "CABC999", records[0].UID)
	conn := records[0].Data.(*zeektypes.Conn)
	require.Equal(t, uint64(60), conn.OrigBytes)
	require.Equal(t, "udp", conn.Proto)
}

func TestRotationResetsOffsetToZero(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/logs/conn.log"
	require.NoError(t, afero.WriteFile(fs, path, []byte(
		`{"ts":1,"uid":"FIRST","id.orig_h":"1.1.1.1","id.orig_p":1,"id.resp_h":"2.2.2.2","id.resp_p":2,"proto":"tcp"}`+"\n"), 0o644))

	reader := New(fs, []string{"/logs"}, time.Millisecond, 64*1024)
	emit := make(chan Record, 8)
	errc := make(chan error, 8)
	reader.scanOnce(emit, errc)

	// Truncate to zero length (simulating rotation), then append a new,
	// unrelated record.
	require.NoError(t, afero.WriteFile(fs, path, nil, 0o644))
	reader.scanOnce(emit, errc)
	require.NoError(t, afero.WriteFile(fs, path, []byte(
		`{"ts":2,"uid":"SECOND","id.orig_h":"3.3.3.3","id.orig_p":3,"id.resp_h":"4.4.4.4","id.resp_p":4,"proto":"tcp"}`+"\n"), 0o644))
	reader.scanOnce(emit, errc)
	close(emit)
	close(errc)

	var uids []string
	for r := range emit {
		uids = append(uids, r.UID)
	}
	require.Equal(t, []string{"FIRST", "SECOND"}, uids)
}

func TestUnknownFormatProducesError(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/logs/conn.log", []byte("not json and not a header\n"), 0o644))

	_, errs := drain(t, fs, "/logs")
	require.NotEmpty(t, errs)
}

func TestDiscoverySelectsFirstExistingDirWithLogFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/empty", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/logs/conn.log", []byte(
		`{"ts":1,"uid":"U1","id.orig_h":"1.1.1.1","id.orig_p":1,"id.resp_h":"2.2.2.2","id.resp_p":2,"proto":"tcp"}`+"\n"), 0o644))

	reader := New(fs, []string{"/missing", "/empty", "/logs"}, time.Millisecond, 64*1024)
	emit := make(chan Record, 8)
	errc := make(chan error, 8)
	reader.scanOnce(emit, errc)
	close(emit)
	close(errc)

	require.Equal(t, "/logs", reader.activeDir)
	var uids []string
	for r := range emit {
		uids = append(uids, r.UID)
	}
	require.Equal(t, []string{"U1"}, uids)
}

func TestDiscoveryCreatesFirstSearchPathWhenNoneQualify(t *testing.T) {
	fs := afero.NewMemMapFs()
	reader := New(fs, []string{"/spool/a", "/spool/b"}, time.Millisecond, 64*1024)
	emit := make(chan Record, 8)
	errc := make(chan error, 8)
	reader.scanOnce(emit, errc)

	require.Equal(t, "/spool/a", reader.activeDir)
	info, err := fs.Stat("/spool/a")
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestRunRespectsContextCancellation(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/logs", 0o755))
	reader := New(fs, []string{"/logs"}, time.Millisecond, 4096)

	ctx, cancel := context.WithCancel(context.Background())
	emit := make(chan Record, 1)
	errc := make(chan error, 1)
	done := make(chan error, 1)
	go func() { done <- reader.Run(ctx, emit, errc) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
