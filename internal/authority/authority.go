// Package authority places source documents in the regulatory hierarchy
// and derives a rule's authority level from the documents it cites.
package authority

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/normativhq/normativ/internal/model"
)

// Classifier assigns authority levels to source documents
type Classifier struct {
	config        model.AuthorityConfig
	statuteSet    map[string]bool
	guidanceSet   map[string]bool
	procedureSet  map[string]bool
	titlePatterns []*compiledPattern
}

type compiledPattern struct {
	pattern *regexp.Regexp
	level   model.AuthorityLevel
}

// NewClassifier builds a classifier from config. Bad title patterns are
// skipped rather than failing construction.
func NewClassifier(config model.AuthorityConfig) *Classifier {
	c := &Classifier{
		config:       config,
		statuteSet:   make(map[string]bool),
		guidanceSet:  make(map[string]bool),
		procedureSet: make(map[string]bool),
	}
	for _, h := range config.StatuteHosts {
		c.statuteSet[h] = true
	}
	for _, h := range config.GuidanceHosts {
		c.guidanceSet[h] = true
	}
	for _, h := range config.ProcedureHosts {
		c.procedureSet[h] = true
	}
	for _, tp := range config.TitlePatterns {
		re, err := regexp.Compile(tp.Pattern)
		if err != nil {
			continue
		}
		c.titlePatterns = append(c.titlePatterns, &compiledPattern{
			pattern: re,
			level:   ParseLevel(tp.Level),
		})
	}
	return c
}

// Classify determines a document's authority level. Order: explicit config
// override, the document's own declared level, host lists, title patterns.
// Anything unplaced lands on practice, the weakest level.
func (c *Classifier) Classify(doc model.SourceDocument) model.AuthorityLevel {
	host := hostOf(doc.URL)

	if c.config.HostMap != nil {
		if levelStr, ok := c.config.HostMap[host]; ok {
			return ParseLevel(levelStr)
		}
	}

	if doc.Authority != model.AuthorityUnknown {
		return doc.Authority
	}

	if level, ok := c.classifyHost(host); ok {
		return level
	}

	for _, cp := range c.titlePatterns {
		if cp.pattern.MatchString(doc.Title) {
			return cp.level
		}
	}

	return model.AuthorityPractice
}

func (c *Classifier) classifyHost(host string) (model.AuthorityLevel, bool) {
	if host == "" {
		return model.AuthorityUnknown, false
	}
	if matchesHostSet(host, c.statuteSet) {
		return model.AuthorityStatute, true
	}
	if matchesHostSet(host, c.guidanceSet) {
		return model.AuthorityGuidance, true
	}
	if matchesHostSet(host, c.procedureSet) {
		return model.AuthorityProcedure, true
	}
	return model.AuthorityUnknown, false
}

// Derive returns the strongest authority level among the cited documents.
// A rule carrying a statute citation is a statute-backed rule even when
// commentary is cited alongside it.
func (c *Classifier) Derive(docs []model.SourceDocument) model.AuthorityLevel {
	derived := model.AuthorityPractice
	for _, doc := range docs {
		if level := c.Classify(doc); level.Stronger(derived) {
			derived = level
		}
	}
	return derived
}

// Resolve reconciles the reasoning function's claimed level with the level
// the evidence supports. The claim may only weaken the result: a claim
// stronger than the citations is unsupported and is dropped.
func (c *Classifier) Resolve(claimed model.AuthorityLevel, docs []model.SourceDocument) model.AuthorityLevel {
	derived := c.Derive(docs)
	if claimed != model.AuthorityUnknown && derived.Stronger(claimed) {
		return claimed
	}
	return derived
}

// ParseLevel maps a config string onto an authority level
func ParseLevel(s string) model.AuthorityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "statute":
		return model.AuthorityStatute
	case "guidance":
		return model.AuthorityGuidance
	case "procedure":
		return model.AuthorityProcedure
	case "practice":
		return model.AuthorityPractice
	default:
		return model.AuthorityUnknown
	}
}

func matchesHostSet(host string, set map[string]bool) bool {
	if set[host] {
		return true
	}
	for h := range set {
		if strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := parsed.Host
	if idx := strings.Index(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return strings.ToLower(host)
}
