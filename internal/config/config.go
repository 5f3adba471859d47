// Package config loads and validates logpull configuration.
//
// Configuration is TOML. A base file is decoded over Default(), then every
// *.toml file of an optional config directory is decoded on top in lexical
// order. CLI flags are applied by the caller afterwards. The resulting
// Config is constructed once and passed into components; nothing here is
// global.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"logpull/internal/logging"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete configuration of one logpull instance.
type Config struct {
	// Identity names the single-instance lock. Runs sharing an identity
	// exclude each other.
	Identity string `toml:"identity"`
	Enclave  string `toml:"enclave"`
	// StateDir holds markers, locks, the processed set and quarantined
	// artifacts.
	StateDir string `toml:"state_dir"`
	Workers  int    `toml:"workers"`

	Logging  Logging  `toml:"logging"`
	Triggers Triggers `toml:"triggers"`
	Logs     Logs     `toml:"logs"`
	Pull     Pull     `toml:"pull"`
	Publish  Publish  `toml:"publish"`
	Notify   Notify   `toml:"notify"`
	Metrics  Metrics  `toml:"metrics"`
	Watch    Watch    `toml:"watch"`
	Checks   []Check  `toml:"check"`
}

// Logging configures the base logger.
type Logging struct {
	Level string `toml:"level"`
	// File, when set, receives a JSON copy of every record.
	File string `toml:"file"`
	// Components overrides the level per component attribute.
	Components map[string]string `toml:"components"`
}

// Triggers configures trigger discovery.
type Triggers struct {
	Dir        string        `toml:"dir"`
	Pattern    string        `toml:"pattern"`
	Format     string        `toml:"format"`
	DateLayout string        `toml:"date_layout"`
	Duplicates string        `toml:"duplicates"`
	Fields     TriggerFields `toml:"fields"`
	// ErrorDir receives quarantined artifacts. Defaults to <state_dir>/errors.
	ErrorDir string `toml:"error_dir"`
}

// TriggerFields are JSONPath expressions for JSON artifacts.
type TriggerFields struct {
	DocID    string `toml:"docid"`
	Command  string `toml:"command"`
	PubDate  string `toml:"pubdate"`
	PullDate string `toml:"pulldate"`
}

// Logs configures log location and decoding.
type Logs struct {
	LiveDir         string            `toml:"live_dir"`
	ArchiveDir      string            `toml:"archive_dir"`
	Pattern         string            `toml:"pattern"`
	LogType         string            `toml:"log_type"`
	SourceRegex     string            `toml:"source_regex"`
	PartitionLayout string            `toml:"partition_layout"`
	Aliases         map[string]string `toml:"aliases"`
	// Decompressors maps a compression name (bzip2, xz, lz4, zip) to a
	// command reading compressed stdin and writing plain stdout.
	Decompressors     map[string][]string `toml:"decompressors"`
	DecompressTimeout time.Duration       `toml:"decompress_timeout"`
	MaxLineSize       int                 `toml:"max_line_size"`
}

// Filter is the line filter shared by pulls and checks.
type Filter struct {
	Keywords   []string `toml:"keywords"`
	Mode       string   `toml:"mode"`
	Ignore     []string `toml:"ignore"`
	IgnoreMode string   `toml:"ignore_mode"`
	Regex      []string `toml:"regex"`
}

// Pull configures document pulls. Every pulled line contains the docid;
// the filter narrows those lines further.
type Pull struct {
	Filter
	// Archive searches month partitions instead of the live directory.
	Archive bool `toml:"archive"`
	// Incremental resumes per docid and source from a saved marker.
	Incremental bool `toml:"incremental"`
}

// Check is one simple check target.
type Check struct {
	Name  string   `toml:"name"`
	Paths []string `toml:"paths"`
	Filter
	FullScan       bool `toml:"full_scan"`
	NoUpdateMarker bool `toml:"no_update_marker"`
}

// Publish configures delivery.
type Publish struct {
	// Target is "sink" or "store".
	Target     string        `toml:"target"`
	Topic      string        `toml:"topic"`
	CheckTopic string        `toml:"check_topic"`
	Encoding   string        `toml:"encoding"`
	Timeout    time.Duration `toml:"timeout"`
	// Rate limits deliveries per second. Zero disables.
	Rate  float64 `toml:"rate"`
	Burst int     `toml:"burst"`
	Sink  Sink    `toml:"sink"`
	Store Store   `toml:"store"`
}

// Sink configures the broker path.
type Sink struct {
	Type string `toml:"type"`

	Brokers []string `toml:"brokers"`
	TLS     bool     `toml:"tls"`
	SASL    *SASL    `toml:"sasl"`

	NatsURL   string `toml:"nats_url"`
	JetStream bool   `toml:"jetstream"`

	MQTTBroker   string `toml:"mqtt_broker"`
	MQTTClientID string `toml:"mqtt_client_id"`
	MQTTQoS      byte   `toml:"mqtt_qos"`
	Username     string `toml:"username"`
	Password     string `toml:"password"` //nolint:gosec // config field

	// Dir is used by the file sink.
	Dir string `toml:"dir"`
}

// SASL holds broker authentication.
type SASL struct {
	Mechanism string `toml:"mechanism"`
	User      string `toml:"user"`
	Password  string `toml:"password"` //nolint:gosec // config field
}

// Store configures the document-store path.
type Store struct {
	Type   string `toml:"type"`
	Bucket string `toml:"bucket"`
	Prefix string `toml:"prefix"`

	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"` //nolint:gosec // config field
	PathStyle bool   `toml:"path_style"`

	CredentialsFile string `toml:"credentials_file"`

	AccountURL       string `toml:"account_url"`
	Container        string `toml:"container"`
	ConnectionString string `toml:"connection_string"` //nolint:gosec // config field

	Dir string `toml:"dir"`
}

// Notify configures operator notification.
type Notify struct {
	// Email enables SMTP delivery. Without it notifications are logged.
	Email    bool     `toml:"email"`
	To       []string `toml:"to"`
	From     string   `toml:"from"`
	SMTPAddr string   `toml:"smtp_addr"`
	Username string   `toml:"username"`
	Password string   `toml:"password"` //nolint:gosec // config field
	Subject  string   `toml:"subject"`
}

// Metrics configures end-of-run export.
type Metrics struct {
	Textfile       string `toml:"textfile"`
	PushgatewayURL string `toml:"pushgateway_url"`
	Job            string `toml:"job"`
}

// Watch configures the long-running mode.
type Watch struct {
	Schedule string        `toml:"schedule"`
	Debounce time.Duration `toml:"debounce"`
}

// Default returns a Config with every default filled in.
func Default() *Config {
	return &Config{
		Identity: "logpull",
		StateDir: "/var/lib/logpull",
		Workers:  1,
		Logging:  Logging{Level: "info"},
		Triggers: Triggers{
			Pattern:    "*.pull",
			Format:     "auto",
			DateLayout: "20060102",
			Duplicates: "fail",
		},
		Logs: Logs{
			Pattern:           "{command}_{logtype}_*",
			LogType:           "app",
			SourceRegex:       "^{command}_{logtype}_(?P<source>[^.]+)",
			PartitionLayout:   "2006-01",
			DecompressTimeout: 5 * time.Minute,
		},
		Pull: Pull{Filter: Filter{Mode: "or", IgnoreMode: "substring"}},
		Publish: Publish{
			Target:     "sink",
			Topic:      "logpull.pull",
			CheckTopic: "logpull.check",
			Encoding:   "json",
			Timeout:    30 * time.Second,
			Sink:       Sink{Type: "file"},
		},
		Notify:  Notify{Subject: "logpull failures"},
		Metrics: Metrics{Job: "logpull"},
		Watch:   Watch{Schedule: "*/5 * * * *", Debounce: 2 * time.Second},
	}
}

// Load decodes file (optional) and then every *.toml in dir (optional)
// over Default(). Unknown keys are logged, not rejected.
func Load(file, dir string, logger *slog.Logger) (*Config, error) {
	logger = logging.Default(logger).With("component", "config")
	cfg := Default()

	var paths []string
	if file != "" {
		paths = append(paths, file)
	}
	if dir != "" {
		matches, err := filepath.Glob(filepath.Join(dir, "*.toml"))
		if err != nil {
			return nil, fmt.Errorf("list config dir %s: %w", dir, err)
		}
		if matches == nil {
			if _, err := os.Stat(dir); err != nil {
				return nil, fmt.Errorf("%w: config dir: %w", ErrInvalid, err)
			}
		}
		slices.Sort(matches)
		paths = append(paths, matches...)
	}

	for _, p := range paths {
		md, err := toml.DecodeFile(p, cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s: %w", ErrInvalid, p, err)
		}
		for _, key := range md.Undecoded() {
			logger.Warn("unknown config key", "file", p, "key", key.String())
		}
		logger.Debug("loaded config file", "file", p)
	}
	return cfg, nil
}

// ErrorDir returns the quarantine directory.
func (c *Config) ErrorDir() string {
	if c.Triggers.ErrorDir != "" {
		return c.Triggers.ErrorDir
	}
	return filepath.Join(c.StateDir, "errors")
}

// Validate checks values without touching the filesystem.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if c.Identity == "" || strings.ContainsAny(c.Identity, `/\`) {
		bad("identity %q must be a non-empty file name", c.Identity)
	}
	if c.StateDir == "" {
		bad("state_dir is required")
	}
	if c.Workers < 1 {
		bad("workers must be >= 1, got %d", c.Workers)
	}
	if c.Logs.MaxLineSize < 0 {
		bad("logs.max_line_size must be >= 0")
	}
	if c.Logs.DecompressTimeout < 0 {
		bad("logs.decompress_timeout must be >= 0")
	}
	for name, cmd := range c.Logs.Decompressors {
		switch name {
		case "bzip2", "xz", "lz4", "zip":
		default:
			bad("logs.decompressors: unknown compression %q", name)
		}
		if len(cmd) == 0 {
			bad("logs.decompressors.%s: empty command", name)
		}
	}

	switch strings.ToLower(c.Triggers.Format) {
	case "", "auto", "tokens", "json":
	default:
		bad("triggers.format %q", c.Triggers.Format)
	}
	switch strings.ToLower(c.Triggers.Duplicates) {
	case "", "fail", "last", "first":
	default:
		bad("triggers.duplicates %q", c.Triggers.Duplicates)
	}

	validateFilter := func(where string, f Filter) {
		switch strings.ToLower(f.Mode) {
		case "", "or", "and":
		default:
			bad("%s.mode %q", where, f.Mode)
		}
		switch strings.ToLower(f.IgnoreMode) {
		case "", "substring", "exact":
		default:
			bad("%s.ignore_mode %q", where, f.IgnoreMode)
		}
	}
	validateFilter("pull", c.Pull.Filter)

	seen := make(map[string]bool, len(c.Checks))
	for i, ch := range c.Checks {
		where := fmt.Sprintf("check[%d]", i)
		if ch.Name == "" || strings.ContainsAny(ch.Name, `/\`) {
			bad("%s: name %q must be a non-empty file name", where, ch.Name)
		}
		if seen[ch.Name] {
			bad("%s: duplicate name %q", where, ch.Name)
		}
		seen[ch.Name] = true
		if len(ch.Paths) == 0 {
			bad("%s: paths is required", where)
		}
		validateFilter(where, ch.Filter)
	}

	p := c.Publish
	switch p.Target {
	case "sink":
		if p.Sink.Type == "" {
			bad("publish.sink.type is required")
		}
		if p.Topic == "" {
			bad("publish.topic is required")
		}
	case "store":
		if p.Store.Type == "" {
			bad("publish.store.type is required")
		}
	default:
		bad("publish.target %q must be sink or store", p.Target)
	}
	switch p.Encoding {
	case "", "json", "msgpack":
	default:
		bad("publish.encoding %q", p.Encoding)
	}
	if p.Timeout < 0 {
		bad("publish.timeout must be >= 0")
	}
	if p.Rate < 0 {
		bad("publish.rate must be >= 0")
	}

	if c.Notify.Email {
		if len(c.Notify.To) == 0 || c.Notify.From == "" || c.Notify.SMTPAddr == "" {
			bad("notify: email requires to, from and smtp_addr")
		}
	}

	if c.Watch.Debounce < 0 {
		bad("watch.debounce must be >= 0")
	}

	return errors.Join(errs...)
}

// CheckDirs verifies the directories a run reads from exist, and creates
// the state directories it writes to.
func (c *Config) CheckDirs(archive bool) error {
	var errs []error
	mustExist := func(key, dir string) {
		if dir == "" {
			errs = append(errs, fmt.Errorf("%w: %s is required", ErrInvalid, key))
			return
		}
		info, err := os.Stat(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalid, key, err))
			return
		}
		if !info.IsDir() {
			errs = append(errs, fmt.Errorf("%w: %s: %s is not a directory", ErrInvalid, key, dir))
		}
	}

	mustExist("triggers.dir", c.Triggers.Dir)
	if archive {
		mustExist("logs.archive_dir", c.Logs.ArchiveDir)
	} else {
		mustExist("logs.live_dir", c.Logs.LiveDir)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	for _, dir := range []string{c.StateDir, c.ErrorDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			errs = append(errs, fmt.Errorf("%w: create %s: %w", ErrInvalid, dir, err))
		}
	}
	return errors.Join(errs...)
}
