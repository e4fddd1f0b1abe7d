// Package matcher evaluates response-variant match rules.
package matcher

import (
	"regexp"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"github.com/prasenjit/mockpit/internal/bodypath"
	"github.com/prasenjit/mockpit/internal/models"
)

const (
	regexCacheTTL      = 10 * time.Minute
	regexCacheCapacity = 1024
)

// Input contains the request data match rules are evaluated against
type Input struct {
	Body       string            // JSON text of the parsed request body
	Headers    map[string]string // Keys are lowercased
	Query      map[string]string
	PathParams map[string]string
}

// Evaluator evaluates variant match rules against request data
type Evaluator struct {
	regexes *ttlcache.Cache[string, *regexp.Regexp]
}

// NewEvaluator creates a new match rule evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{
		regexes: ttlcache.New[string, *regexp.Regexp](
			ttlcache.WithTTL[string, *regexp.Regexp](regexCacheTTL),
			ttlcache.WithCapacity[string, *regexp.Regexp](regexCacheCapacity),
		),
	}
}

// Matches reports whether the rule set is satisfied. A nil or empty rule
// set never matches.
func (e *Evaluator) Matches(rules *models.MatchRules, in Input) bool {
	if rules == nil {
		return false
	}

	results := make([]bool, 0, rules.Count())
	for _, rule := range rules.BodyRules {
		res := bodypath.Get(in.Body, rule.Field)
		present := res.Exists() && res.Type != gjson.Null
		results = append(results, e.EvaluateRule(rule, res.String(), present))
	}
	for _, rule := range rules.HeaderRules {
		actual, ok := in.Headers[strings.ToLower(rule.Field)]
		results = append(results, e.EvaluateRule(rule, actual, ok))
	}
	for _, rule := range rules.QueryParamRules {
		actual, ok := in.Query[rule.Field]
		results = append(results, e.EvaluateRule(rule, actual, ok))
	}
	for _, rule := range rules.PathParamRules {
		actual, ok := in.PathParams[rule.Field]
		results = append(results, e.EvaluateRule(rule, actual, ok))
	}

	return combine(rules.CombineWith, results)
}

func combine(combineWith string, results []bool) bool {
	if len(results) == 0 {
		return false
	}

	if combineWith == models.CombineOr {
		return lo.Contains(results, true)
	}
	return !lo.Contains(results, false)
}

// EvaluateRule applies the rule's operator to actual. A value that is not
// present never satisfies any operator.
func (e *Evaluator) EvaluateRule(rule models.MatchRule, actual string, present bool) bool {
	if !present {
		return false
	}

	switch rule.Operator {
	case models.OpEquals:
		return actual == rule.Value
	case models.OpContains:
		return strings.Contains(actual, rule.Value)
	case models.OpStartsWith:
		return strings.HasPrefix(actual, rule.Value)
	case models.OpEndsWith:
		return strings.HasSuffix(actual, rule.Value)
	case models.OpRegex:
		re := e.compile(rule.Value)
		return re != nil && re.MatchString(actual)
	default:
		return false
	}
}

// compile returns the cached regexp for pattern, or nil when it is invalid
func (e *Evaluator) compile(pattern string) *regexp.Regexp {
	if item := e.regexes.Get(pattern); item != nil {
		return item.Value()
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}
	e.regexes.Set(pattern, re, ttlcache.DefaultTTL)
	return re
}
