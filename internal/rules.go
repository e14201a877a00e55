package internal

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/PaesslerAG/jsonpath"
	"gopkg.in/yaml.v3"
)

// Rule routes matching events to one or more bus topics. The When expression
// is evaluated against the flattened payload: plain identifiers (`action`,
// `merged`), dotted paths (`pull_request.draft`, `commits[0].id`) and
// jsonpath selectors (`$.pull_request.draft`) are all supported. The event
// type is available as `event`.
type Rule struct {
	When string   `yaml:"when"`
	Emit EmitList `yaml:"emit"`
}

// EmitList accepts either a single topic or a list of topics in YAML.
type EmitList []string

func (e *EmitList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*e = EmitList{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*e = EmitList(many)
		return nil
	default:
		return fmt.Errorf("emit must be a string or a list of strings")
	}
}

// RulesConfig holds the compiled rule inputs.
type RulesConfig struct {
	Rules  []Rule
	Logger *log.Logger
}

type binding struct {
	name     string
	flatKey  string
	jsonPath string
}

type compiledRule struct {
	when     string
	emit     []string
	expr     *govaluate.EvaluableExpression
	bindings []binding
}

// RuleEngine evaluates routing rules against events. It is built once at
// startup and read-only afterwards.
type RuleEngine struct {
	rules  []compiledRule
	logger *log.Logger
}

// NewRuleEngine compiles the configured rules.
func NewRuleEngine(cfg RulesConfig) (*RuleEngine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	rules := make([]compiledRule, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		rewritten, bindings := rewriteExpression(rule.When)
		expr, err := govaluate.NewEvaluableExpression(rewritten)
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rule.When, err)
		}
		rules = append(rules, compiledRule{
			when:     rule.When,
			emit:     rule.Emit,
			expr:     expr,
			bindings: bindings,
		})
	}
	return &RuleEngine{rules: rules, logger: logger}, nil
}

// Len returns the number of compiled rules.
func (r *RuleEngine) Len() int {
	return len(r.rules)
}

// Evaluate returns the topics whose rules match the event, in rule order,
// deduplicated. A rule referencing fields absent from the payload simply
// does not match.
func (r *RuleEngine) Evaluate(event Event) []string {
	if len(r.rules) == 0 {
		return nil
	}

	var root interface{}
	if len(event.RawPayload) > 0 {
		_ = json.Unmarshal(event.RawPayload, &root)
	}
	data := event.Data
	if data == nil {
		if object, ok := root.(map[string]interface{}); ok {
			data = Flatten(object)
		} else {
			data = map[string]interface{}{}
		}
	}

	base := map[string]interface{}{"event": event.Name}
	for key, value := range data {
		if !strings.ContainsAny(key, ".[") {
			base[key] = value
		}
	}
	if _, ok := base["action"]; !ok && event.Action != "" {
		base["action"] = event.Action
	}

	topics := make([]string, 0, 1)
	seen := make(map[string]struct{})
	for _, rule := range r.rules {
		params := make(map[string]interface{}, len(base)+len(rule.bindings))
		for key, value := range base {
			params[key] = value
		}
		missing := false
		for _, b := range rule.bindings {
			if b.flatKey != "" {
				value, ok := data[b.flatKey]
				if !ok {
					missing = true
					break
				}
				params[b.name] = value
				continue
			}
			value, err := jsonpath.Get(b.jsonPath, root)
			if err != nil {
				missing = true
				break
			}
			params[b.name] = value
		}
		if missing {
			continue
		}

		result, err := rule.expr.Evaluate(params)
		if err != nil {
			r.logger.Printf("rule %q eval failed: %v", rule.when, err)
			continue
		}
		ok, _ := result.(bool)
		if !ok {
			continue
		}
		for _, topic := range rule.emit {
			if _, dup := seen[topic]; dup {
				continue
			}
			seen[topic] = struct{}{}
			topics = append(topics, topic)
		}
	}
	return topics
}

var (
	jsonPathPattern = regexp.MustCompile(`\$(?:\.[A-Za-z_][A-Za-z0-9_]*(?:\[\d+\])?)+`)
	dottedPattern   = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*(?:\[\d+\])?(?:\.[A-Za-z_][A-Za-z0-9_]*(?:\[\d+\])?)+`)
)

// rewriteExpression replaces jsonpath selectors and dotted payload paths with
// synthetic identifiers govaluate can parse, returning the bindings needed to
// resolve them at evaluation time. String literals are left untouched.
func rewriteExpression(input string) (string, []binding) {
	masked, literals := maskStrings(input)
	var bindings []binding

	masked = jsonPathPattern.ReplaceAllStringFunc(masked, func(match string) string {
		name := fmt.Sprintf("__jp%d", len(bindings))
		bindings = append(bindings, binding{name: name, jsonPath: match})
		return name
	})
	masked = dottedPattern.ReplaceAllStringFunc(masked, func(match string) string {
		name := fmt.Sprintf("__fl%d", len(bindings))
		bindings = append(bindings, binding{name: name, flatKey: match})
		return name
	})

	return unmaskStrings(masked, literals), bindings
}

func maskStrings(input string) (string, []string) {
	var literals []string
	var out strings.Builder
	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if ch != '"' && ch != '\'' {
			out.WriteRune(ch)
			continue
		}
		quote := ch
		j := i + 1
		for j < len(runes) {
			if runes[j] == '\\' {
				j += 2
				continue
			}
			if runes[j] == quote {
				break
			}
			j++
		}
		if j >= len(runes) {
			// Unterminated literal; let govaluate report it.
			out.WriteString(string(runes[i:]))
			return out.String(), literals
		}
		literals = append(literals, string(runes[i:j+1]))
		out.WriteString(fmt.Sprintf("__str%d", len(literals)-1))
		i = j
	}
	return out.String(), literals
}

func unmaskStrings(input string, literals []string) string {
	for i := len(literals) - 1; i >= 0; i-- {
		input = strings.Replace(input, fmt.Sprintf("__str%d", i), literals[i], 1)
	}
	return input
}
