// Package zeektypes catalogues the Zeek/Bro log record shapes this pipeline
// understands: conn, dns, http, ssl, notice, files, and weird. Each struct
// carries both a `json` tag (for JSON-Lines logs) and a `zeek`/`zeektype`
// tag pair (for legacy TSV logs with a `#fields`/`#types` header), mirroring
// the teacher's dual-tag convention so one struct definition serves both
// wire formats.
package zeektypes

// LogType identifies which Zeek log a record came from.
type LogType string

const (
	LogTypeConn   LogType = "conn"
	LogTypeDNS    LogType = "dns"
	LogTypeHTTP   LogType = "http"
	LogTypeTLS    LogType = "tls"
	LogTypeNotice LogType = "notice"
	LogTypeFiles  LogType = "files"
	LogTypeWeird  LogType = "weird"
)

// Record is implemented by every per-line struct below. It lets the log
// reader treat all seven shapes uniformly when stamping cross-cutting fields
// after a line is parsed.
type Record interface {
	SetLogPath(path string)
	UID() string
	// Seconds returns the record's Zeek timestamp as Unix seconds.
	Seconds() float64
}

// Conn is a single Zeek conn.log entry.
type Conn struct {
	LogPath     string  `json:"-"`
	TS          float64 `json:"ts" zeek:"ts" zeektype:"time"`
	UIDField    string  `json:"uid" zeek:"uid" zeektype:"string"`
	OrigH       string  `json:"id.orig_h" zeek:"id.orig_h" zeektype:"addr"`
	OrigP       uint16  `json:"id.orig_p" zeek:"id.orig_p" zeektype:"port"`
	RespH       string  `json:"id.resp_h" zeek:"id.resp_h" zeektype:"addr"`
	RespP       uint16  `json:"id.resp_p" zeek:"id.resp_p" zeektype:"port"`
	Proto       string  `json:"proto" zeek:"proto" zeektype:"enum"`
	Service     string  `json:"service" zeek:"service" zeektype:"string"`
	Duration    float64 `json:"duration" zeek:"duration" zeektype:"interval"`
	OrigBytes   uint64  `json:"orig_bytes" zeek:"orig_bytes" zeektype:"count"`
	RespBytes   uint64  `json:"resp_bytes" zeek:"resp_bytes" zeektype:"count"`
	ConnState   string  `json:"conn_state" zeek:"conn_state" zeektype:"string"`
	History     string  `json:"history" zeek:"history" zeektype:"string"`
	OrigPkts    uint64  `json:"orig_pkts" zeek:"orig_pkts" zeektype:"count"`
	OrigIPBytes uint64  `json:"orig_ip_bytes" zeek:"orig_ip_bytes" zeektype:"count"`
	RespPkts    uint64  `json:"resp_pkts" zeek:"resp_pkts" zeektype:"count"`
	RespIPBytes uint64  `json:"resp_ip_bytes" zeek:"resp_ip_bytes" zeektype:"count"`
}

func (c *Conn) SetLogPath(path string) { c.LogPath = path }
func (c *Conn) UID() string            { return c.UIDField }
func (c *Conn) Seconds() float64       { return c.TS }

// DNS is a single Zeek dns.log entry.
type DNS struct {
	LogPath  string  `json:"-"`
	TS       float64 `json:"ts" zeek:"ts" zeektype:"time"`
	UIDField string  `json:"uid" zeek:"uid" zeektype:"string"`
	Query    string  `json:"query" zeek:"query" zeektype:"string"`
	QType    string  `json:"qtype_name" zeek:"qtype_name" zeektype:"string"`
	RCode    string  `json:"rcode_name" zeek:"rcode_name" zeektype:"string"`
	Answers  string  `json:"answers" zeek:"answers" zeektype:"vector[string]"`
	Rejected bool    `json:"rejected" zeek:"rejected" zeektype:"bool"`
}

func (d *DNS) SetLogPath(path string) { d.LogPath = path }
func (d *DNS) UID() string            { return d.UIDField }
func (d *DNS) Seconds() float64       { return d.TS }

// HTTP is a single Zeek http.log entry.
type HTTP struct {
	LogPath    string  `json:"-"`
	TS         float64 `json:"ts" zeek:"ts" zeektype:"time"`
	UIDField   string  `json:"uid" zeek:"uid" zeektype:"string"`
	Method     string  `json:"method" zeek:"method" zeektype:"string"`
	Host       string  `json:"host" zeek:"host" zeektype:"string"`
	URI        string  `json:"uri" zeek:"uri" zeektype:"string"`
	UserAgent  string  `json:"user_agent" zeek:"user_agent" zeektype:"string"`
	StatusCode int     `json:"status_code" zeek:"status_code" zeektype:"count"`
	RespMIME   string  `json:"resp_mime_types" zeek:"resp_mime_types" zeektype:"vector[string]"`
}

func (h *HTTP) SetLogPath(path string) { h.LogPath = path }
func (h *HTTP) UID() string            { return h.UIDField }
func (h *HTTP) Seconds() float64       { return h.TS }

// TLS is a single Zeek ssl.log/tls.log entry.
type TLS struct {
	LogPath     string  `json:"-"`
	TS          float64 `json:"ts" zeek:"ts" zeektype:"time"`
	UIDField    string  `json:"uid" zeek:"uid" zeektype:"string"`
	Version     string  `json:"version" zeek:"version" zeektype:"string"`
	Cipher      string  `json:"cipher" zeek:"cipher" zeektype:"string"`
	ServerName  string  `json:"server_name" zeek:"server_name" zeektype:"string"`
	Established bool    `json:"established" zeek:"established" zeektype:"bool"`
	ValidationStatus string `json:"validation_status" zeek:"validation_status" zeektype:"string"`
}

func (s *TLS) SetLogPath(path string) { s.LogPath = path }
func (s *TLS) UID() string            { return s.UIDField }
func (s *TLS) Seconds() float64       { return s.TS }

// Notice is a single Zeek notice.log entry.
type Notice struct {
	LogPath     string  `json:"-"`
	TS          float64 `json:"ts" zeek:"ts" zeektype:"time"`
	UIDField    string  `json:"uid" zeek:"uid" zeektype:"string"`
	Note        string  `json:"note" zeek:"note" zeektype:"enum"`
	Msg         string  `json:"msg" zeek:"msg" zeektype:"string"`
	Sub         string  `json:"sub" zeek:"sub" zeektype:"string"`
	Src         string  `json:"src" zeek:"src" zeektype:"addr"`
	Dst         string  `json:"dst" zeek:"dst" zeektype:"addr"`
	P           uint16  `json:"p" zeek:"p" zeektype:"port"`
	PeerDescr   string  `json:"peer_descr" zeek:"peer_descr" zeektype:"string"`
	Actions     string  `json:"actions" zeek:"actions" zeektype:"set[string]"`
	SuppressFor float64 `json:"suppress_for" zeek:"suppress_for" zeektype:"interval"`
}

func (n *Notice) SetLogPath(path string) { n.LogPath = path }
func (n *Notice) UID() string            { return n.UIDField }
func (n *Notice) Seconds() float64       { return n.TS }

// Files is a single Zeek files.log entry.
type Files struct {
	LogPath  string  `json:"-"`
	TS       float64 `json:"ts" zeek:"ts" zeektype:"time"`
	UIDField string  `json:"conn_uids" zeek:"conn_uids" zeektype:"set[string]"`
	Source   string  `json:"source" zeek:"source" zeektype:"string"`
	MIMEType string  `json:"mime_type" zeek:"mime_type" zeektype:"string"`
	Filename string  `json:"filename" zeek:"filename" zeektype:"string"`
	SeenBytes uint64 `json:"seen_bytes" zeek:"seen_bytes" zeektype:"count"`
	IsOrig   bool    `json:"is_orig" zeek:"is_orig" zeektype:"bool"`
	Md5      string  `json:"md5" zeek:"md5" zeektype:"string"`
	Sha1     string  `json:"sha1" zeek:"sha1" zeektype:"string"`
}

func (f *Files) SetLogPath(path string) { f.LogPath = path }
func (f *Files) UID() string            { return f.UIDField }
func (f *Files) Seconds() float64       { return f.TS }

// Weird is a single Zeek weird.log entry.
type Weird struct {
	LogPath  string  `json:"-"`
	TS       float64 `json:"ts" zeek:"ts" zeektype:"time"`
	UIDField string  `json:"uid" zeek:"uid" zeektype:"string"`
	Name     string  `json:"name" zeek:"name" zeektype:"string"`
	Addl     string  `json:"addl" zeek:"addl" zeektype:"string"`
	Notice   bool    `json:"notice" zeek:"notice" zeektype:"bool"`
	Peer     string  `json:"peer" zeek:"peer" zeektype:"string"`
}

func (w *Weird) SetLogPath(path string) { w.LogPath = path }
func (w *Weird) UID() string            { return w.UIDField }
func (w *Weird) Seconds() float64       { return w.TS }

// FilePrefix maps a log file's basename prefix to its LogType, the same
// dispatch the teacher does by filename (conn/dns/http/ssl).
var FilePrefix = map[string]LogType{
	"conn":   LogTypeConn,
	"dns":    LogTypeDNS,
	"http":   LogTypeHTTP,
	"ssl":    LogTypeTLS,
	"tls":    LogTypeTLS,
	"notice": LogTypeNotice,
	"files":  LogTypeFiles,
	"weird":  LogTypeWeird,
}
