// Package cachepolicy maps logical asset classes to Cache-Control directives.
package cachepolicy

import (
	"sort"
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// Cache-Control directives attached to every write.
const (
	DirectiveOriginal  = "public, max-age=31536000, immutable"
	DirectiveDerived   = "public, max-age=2592000, immutable"
	DirectiveDocument  = "public, max-age=86400"
	DirectiveTemporary = "no-store, no-cache, must-revalidate"
)

// Directive returns the Cache-Control directive for class. Unknown classes get the
// temporary directive.
func Directive(class uploadtypes.CacheClass) string {
	switch class {
	case uploadtypes.CacheOriginal:
		return DirectiveOriginal
	case uploadtypes.CacheDerived:
		return DirectiveDerived
	case uploadtypes.CacheDocument:
		return DirectiveDocument
	default:
		return DirectiveTemporary
	}
}

// DefaultRules maps key prefixes to classes.
func DefaultRules() map[string]uploadtypes.CacheClass {
	return map[string]uploadtypes.CacheClass{
		"originals/":  uploadtypes.CacheOriginal,
		"thumbnails/": uploadtypes.CacheDerived,
		"previews/":   uploadtypes.CacheDerived,
		"derived/":    uploadtypes.CacheDerived,
		"documents/":  uploadtypes.CacheDocument,
		"tmp/":        uploadtypes.CacheTemporary,
		"temp/":       uploadtypes.CacheTemporary,
	}
}

type rule struct {
	prefix string
	class  uploadtypes.CacheClass
}

// Resolver infers a key's class from its prefix.
type Resolver struct {
	rules []rule
}

// NewResolver creates a resolver from a prefix→class map. A nil map selects DefaultRules.
func NewResolver(rules map[string]uploadtypes.CacheClass) *Resolver {
	if rules == nil {
		rules = DefaultRules()
	}
	r := &Resolver{rules: make([]rule, 0, len(rules))}
	for prefix, class := range rules {
		r.rules = append(r.rules, rule{prefix: prefix, class: class})
	}
	// longest prefix first
	sort.Slice(r.rules, func(i, j int) bool {
		if len(r.rules[i].prefix) != len(r.rules[j].prefix) {
			return len(r.rules[i].prefix) > len(r.rules[j].prefix)
		}
		return r.rules[i].prefix < r.rules[j].prefix
	})
	return r
}

// ClassFor returns the class of the longest matching prefix, or CacheTemporary.
func (r *Resolver) ClassFor(key string) uploadtypes.CacheClass {
	for _, rl := range r.rules {
		if strings.HasPrefix(key, rl.prefix) {
			return rl.class
		}
	}
	return uploadtypes.CacheTemporary
}

// Resolve returns the effective class and its directive. A non-empty explicit class
// wins over the key prefix.
func (r *Resolver) Resolve(key string, explicit uploadtypes.CacheClass) (uploadtypes.CacheClass, string) {
	class := explicit
	if class == "" {
		class = r.ClassFor(key)
	}
	return class, Directive(class)
}
