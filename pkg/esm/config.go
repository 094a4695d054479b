package esm

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config contains the configuration for the extension bridge server. The env
// struct tag contains the environment variable name and the default value if
// missing, or empty (if not ?=).
type Config struct {
	// The address to listen on for client TCP connections.
	Addr string `env:"ESM_ADDR?=:3003"`

	// The work-queue URI for the bot channel (Redis).
	RedisURI string `env:"ESM_REDIS_URI?=redis://127.0.0.1/" sdcreds:"load,trimspace"`

	// The storage to use for server keys:
	//  - memory
	//  - redis (shares ESM_REDIS_URI with the bot channel)
	//  - sqlite3:/path/to/esm.db
	Keystore string `env:"ESM_KEYSTORE=memory"`

	// Per-client liveness timings.
	PingAfter       time.Duration `env:"ESM_PING_AFTER=5s"`
	DisconnectAfter time.Duration `env:"ESM_DISCONNECT_AFTER=10s"`

	// How often the alive-check timer fires.
	AliveCheckInterval time.Duration `env:"ESM_ALIVE_CHECK_INTERVAL=1s"`

	// Minimum client semver to allow during Init, replacing nothing if empty
	// (all client versions are allowed). Dev versions are always allowed.
	MinClientVersion string `env:"ESM_MIN_CLIENT_VERSION"`

	// The minimum log level (e.g., trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"ESM_LOG_LEVEL=debug"`

	// Whether to log to stdout.
	LogStdout bool `env:"ESM_LOG_STDOUT=true"`

	// Whether to use pretty logs.
	LogStdoutPretty bool `env:"ESM_LOG_STDOUT_PRETTY=true"`

	// The minimum log level for stdout.
	LogStdoutLevel zerolog.Level `env:"ESM_LOG_STDOUT_LEVEL=trace"`

	// The log file to output to, if provided. Reopened on SIGHUP.
	LogFile string `env:"ESM_LOG_FILE"`

	// The minimum log level for the log file.
	LogFileLevel zerolog.Level `env:"ESM_LOG_FILE_LEVEL=info"`

	// The permissions for the log file.
	LogFileChmod fs.FileMode `env:"ESM_LOG_FILE_CHMOD"`

	// The debug/metrics listen address (pprof + /metrics). Empty disables it.
	DebugAddr string `env:"ESM_DEBUG_ADDR"`

	// For sd-notify.
	NotifySocket string `env:"NOTIFY_SOCKET"`
}

// UnmarshalEnv unmarshals an array of environment variables into c, setting
// default values as appropriate. If incremental is true, default values will
// not be set for missing env vars, but only for empty ones.
func (c *Config) UnmarshalEnv(es []string, incremental bool) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "ESM_") || strings.HasPrefix(e, "NOTIFY_SOCKET=") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}
	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			v, err := sdcreds(v, ctf.Tag.Get("sdcreds"))
			if err != nil {
				return fmt.Errorf("env %s: expand systemd credentials: %w", key, err)
			}
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		} else if incremental {
			continue
		}

		switch cvf := cv.FieldByName(ctf.Name); cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case fs.FileMode:
			if val == "" {
				cvf.Set(reflect.ValueOf(fs.FileMode(0)))
			} else if v, err := strconv.ParseUint(val, 8, 32); err == nil {
				cvf.Set(reflect.ValueOf(fs.FileMode(v)))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled type %T (%s)", cvf.Interface(), env)
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}

// sdcreds expands systemd credentials in v (prefixed by "@") according to
// tag, which consists of a mode followed by optional flags.
//
// Mode:
//   - (none): return the original value
//   - load: read the cred contents
//
// Args:
//   - trimspace (load): trim leading/trailing whitespace from the cred value
func sdcreds(v string, tag string) (string, error) {
	if tag == "" {
		return v, nil
	}

	var mode struct{ load bool }
	var opts struct{ trimspace bool }

	tag, args, _ := strings.Cut(tag, ",")
	switch tag {
	case "load":
		mode.load = true
	default:
		return "", fmt.Errorf("invalid struct tag %q", tag)
	}
	for _, arg := range strings.Split(args, ",") {
		switch {
		case mode.load && arg == "trimspace":
			opts.trimspace = true
		case arg == "":
		default:
			return "", fmt.Errorf("invalid struct tag %q arg %q", tag, arg)
		}
	}

	if len(v) == 0 || v[0] != '@' {
		return v, nil
	}

	crd := os.Getenv("CREDENTIALS_DIRECTORY")
	if crd == "" {
		return "", fmt.Errorf("expand %q: systemd CREDENTIALS_DIRECTORY env var not set", v)
	}
	if !filepath.IsAbs(crd) {
		return "", fmt.Errorf("expand %q: systemd CREDENTIALS_DIRECTORY=%q env var is not an absolute path", v, crd)
	}
	cred := v[1:]
	if strings.Contains(cred, "/") || strings.Contains(cred, string(filepath.Separator)) {
		return "", fmt.Errorf("expand %q: invalid credential name %q", v, cred)
	}
	pt := filepath.Join(crd, cred)

	buf, err := os.ReadFile(pt)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, fmt.Errorf("expand %q: no such credential %q", v, filepath.Base(pt))
		}
		return v, fmt.Errorf("expand %q: read credential %q: %w", v, filepath.Base(pt), err)
	}
	if opts.trimspace {
		buf = bytes.TrimSpace(buf)
	}
	return string(buf), nil
}
