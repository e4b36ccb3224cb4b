package headerreplay

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/always-cache/header-replay/pkg/envelope"
)

// ErrInvalidPattern is returned by NewOptions for an ignore-cookie pattern
// that does not compile.
var ErrInvalidPattern = errors.New("invalid ignore-cookie pattern")

// DefaultUserContextHeaders are used when no context headers are configured.
var DefaultUserContextHeaders = []string{"cookie", "authorization"}

// Config is the user-facing configuration, as read from YAML.
//
//	userContextHeaders: [cookie, authorization]
//	ignoreCookies: ["_ga.*", "consent"]
//	namespace: t42
//	replayHeaders: [x-user-role]
//
// A bare sequence is read as the list of user context headers.
type Config struct {
	UserContextHeaders []string `yaml:"userContextHeaders"`
	IgnoreCookies      []string `yaml:"ignoreCookies"`
	Namespace          string   `yaml:"namespace"`
	// Header names the origin replays. The cache removes them from client
	// requests, the origin's envelope being the only source of their values.
	ReplayHeaders []string `yaml:"replayHeaders"`
}

func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		return value.Decode(&c.UserContextHeaders)
	}
	type plain Config
	return value.Decode((*plain)(c))
}

// Options is the resolved configuration. It is immutable after NewOptions
// and safe to share between requests.
type Options struct {
	// lower-cased, de-duplicated, in configured order
	UserContextHeaders []string
	IgnoreCookies      []*regexp.Regexp
	Tokens             envelope.Tokens
	// canonical header keys
	ReplayHeaders []string
}

// NewOptions applies defaults and validates c.
func NewOptions(c Config) (Options, error) {
	opts := Options{}

	headers := c.UserContextHeaders
	if len(headers) == 0 {
		headers = DefaultUserContextHeaders
	}
	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		opts.UserContextHeaders = append(opts.UserContextHeaders, h)
	}

	for _, p := range c.IgnoreCookies {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return Options{}, fmt.Errorf("%w %q: %v", ErrInvalidPattern, p, err)
		}
		opts.IgnoreCookies = append(opts.IgnoreCookies, re)
	}

	for _, h := range c.ReplayHeaders {
		h = strings.TrimSpace(h)
		if strings.EqualFold(h, "set-cookie") {
			return Options{}, fmt.Errorf("replay header: %q cannot be replayed", h)
		}
		if h != "" {
			opts.ReplayHeaders = append(opts.ReplayHeaders, http.CanonicalHeaderKey(h))
		}
	}

	ns := c.Namespace
	if ns == "" {
		ns = envelope.DefaultNamespace
	}
	tokens, err := envelope.NewTokens(ns)
	if err != nil {
		return Options{}, fmt.Errorf("namespace: %w", err)
	}
	opts.Tokens = tokens

	return opts, nil
}

// DefaultOptions returns the options for an empty Config.
func DefaultOptions() Options {
	opts, err := NewOptions(Config{})
	if err != nil {
		panic(err)
	}
	return opts
}

// contextHeader reports whether name is one of the configured context headers.
func (o Options) contextHeader(name string) bool {
	for _, h := range o.UserContextHeaders {
		if h == name {
			return true
		}
	}
	return false
}

// ignoredCookie reports whether the cookie name matches an ignore pattern.
func (o Options) ignoredCookie(name string) bool {
	for _, re := range o.IgnoreCookies {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, fmt.Errorf("parse %s: %w", filename, err)
	}
	return config, nil
}
