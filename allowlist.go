package webbridge

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// entryParts splits an allow-list origin into scheme, host, port, and path.
var entryParts = regexp.MustCompile(`^((\*|[A-Za-z-]+):(//)?)?(\*|((\*\.)?[^*/:]+))?(:(\d+))?(/.*)?$`)

// urlPattern matches one compiled allow-list entry. A nil component matches
// anything.
type urlPattern struct {
	scheme *regexp.Regexp
	host   *regexp.Regexp
	port   int // -1 matches any port
	path   *regexp.Regexp
}

// regexFromGlob turns a pattern into an anchored regular expression,
// escaping metacharacters. '*' expands to ".*" only when wildcards are
// allowed (paths); scheme and host wildcards are handled structurally.
func regexFromGlob(pattern string, allowWildcards bool) string {
	const toEscape = `\.[]{}()^$?+|*`
	var sb strings.Builder
	for _, c := range pattern {
		if c == '*' && allowWildcards {
			sb.WriteString(".*")
			continue
		}
		if strings.ContainsRune(toEscape, c) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

func newURLPattern(scheme, host, port, path string) (*urlPattern, error) {
	p := &urlPattern{port: -1}
	var err error
	if scheme != "" && scheme != "*" {
		p.scheme, err = regexp.Compile("(?i)^" + regexFromGlob(scheme, false) + "$")
		if err != nil {
			return nil, fmt.Errorf("scheme pattern: %w", err)
		}
	}
	switch {
	case host == "" || host == "*":
	case strings.HasPrefix(host, "*."):
		p.host, err = regexp.Compile(`(?i)^([a-z0-9.-]*\.)?` + regexFromGlob(host[2:], false) + "$")
	default:
		p.host, err = regexp.Compile("(?i)^" + regexFromGlob(host, false) + "$")
	}
	if err != nil {
		return nil, fmt.Errorf("host pattern: %w", err)
	}
	if port != "" && port != "*" {
		p.port, err = strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("port must be a number: %q", port)
		}
	}
	if path != "" && path != "/*" {
		p.path, err = regexp.Compile("^" + regexFromGlob(path, true) + "$")
		if err != nil {
			return nil, fmt.Errorf("path pattern: %w", err)
		}
	}
	return p, nil
}

func (p *urlPattern) matches(u *url.URL) bool {
	if p.scheme != nil && !p.scheme.MatchString(u.Scheme) {
		return false
	}
	if p.host != nil && !p.host.MatchString(u.Hostname()) {
		return false
	}
	if p.port >= 0 {
		explicit := -1
		if s := u.Port(); s != "" {
			explicit, _ = strconv.Atoi(s)
		}
		if explicit != p.port {
			return false
		}
	}
	if p.path != nil && !p.path.MatchString(u.Path) {
		return false
	}
	return true
}

// AllowList is a configured set of URL patterns. An entry of "*" admits
// everything; an empty list admits nothing.
type AllowList struct {
	patterns []*urlPattern
	allowAll bool
	log      *zap.Logger
}

// NewAllowList compiles the given origins, logging and skipping malformed
// entries the way the shell treats configuration typos.
func NewAllowList(origins ...string) *AllowList {
	a := &AllowList{log: logNamed("allowlist")}
	for _, o := range origins {
		if err := a.AddEntry(o, false); err != nil {
			a.log.Warn("allow-list entry rejected", zap.String("origin", o), zap.Error(err))
		}
	}
	return a
}

// AddEntry compiles one origin pattern. subdomains widens a literal host to
// its subdomain tree. Scheme-less entries match both http and https.
func (a *AllowList) AddEntry(origin string, subdomains bool) error {
	if a.allowAll {
		return nil
	}
	if origin == "*" {
		a.log.Debug("unlimited access to network resources")
		a.allowAll = true
		a.patterns = nil
		return nil
	}
	m := entryParts.FindStringSubmatch(origin)
	if m == nil {
		return fmt.Errorf("malformed allow-list entry: %q", origin)
	}
	scheme, host, port, path := m[2], m[4], m[8], m[9]
	// file and content URLs may legitimately have no authority.
	if (scheme == "file" || scheme == "content") && host == "" {
		host = "*"
	}
	if subdomains && host != "" && host != "*" && !strings.HasPrefix(host, "*.") {
		host = "*." + host
	}
	schemes := []string{scheme}
	if scheme == "" {
		// Forgiving default for entries that omit the protocol.
		schemes = []string{"http", "https"}
	}
	for _, s := range schemes {
		p, err := newURLPattern(s, host, port, path)
		if err != nil {
			return err
		}
		a.patterns = append(a.patterns, p)
	}
	return nil
}

// Allows reports whether the URL matches any configured pattern.
func (a *AllowList) Allows(rawURL string) bool {
	if a.allowAll {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		a.log.Debug("unparseable url", zap.String("url", rawURL), zap.Error(err))
		return false
	}
	for _, p := range a.patterns {
		if p.matches(u) {
			return true
		}
	}
	return false
}

// AllowListService is the service name of the built-in policy plugin.
const AllowListService = "AllowList"

// AllowListPlugin answers navigation and external-intent policy questions
// from the configured allow-lists. It only ever allows or abstains; the
// restrictive default lives in the plugin manager.
type AllowListPlugin struct {
	navigation *AllowList
	intents    *AllowList
}

var _ NavigationVoter = (*AllowListPlugin)(nil)
var _ ExternalURLVoter = (*AllowListPlugin)(nil)

// NewAllowListPlugin compiles the config's allow_navigation and
// allow_intents lists.
func NewAllowListPlugin(cfg *Config) *AllowListPlugin {
	return &AllowListPlugin{
		navigation: NewAllowList(cfg.AllowNavigation...),
		intents:    NewAllowList(cfg.AllowIntents...),
	}
}

func (p *AllowListPlugin) Initialize(env *PluginEnv) error { return nil }

func (p *AllowListPlugin) AllowNavigation(rawURL string) PolicyVote {
	if p.navigation.Allows(rawURL) {
		return VoteAllow
	}
	return VoteAbstain
}

func (p *AllowListPlugin) AllowExternalURL(rawURL string) PolicyVote {
	if p.intents.Allows(rawURL) {
		return VoteAllow
	}
	return VoteAbstain
}
