package ack

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"signoff/internal/assignee"
	"signoff/internal/pattern"
	"signoff/internal/store"
)

type compiledRule struct {
	store.Rule
	pattern *pattern.Pattern
}

// validateRule checks what cannot be caught by trimming: the pattern has to
// compile and group references need a name.
func validateRule(rule *store.Rule) error {
	return validation.ValidateStruct(rule,
		validation.Field(&rule.Pattern,
			validation.Required,
			validation.By(func(value interface{}) error {
				_, err := pattern.Compile(value.(string))
				return err
			}),
		),
		validation.Field(&rule.Assignees,
			validation.Required,
			validation.By(func(value interface{}) error {
				for _, entry := range assignee.Split(value.(string)) {
					if _, ok := assignee.IsGroup(entry); strings.HasPrefix(entry, assignee.GroupSigil) && !ok {
						return errors.New("empty group reference")
					}
				}
				return nil
			}),
		),
	)
}

// compileRules returns the usable rules and a warning for every rule that is not.
func compileRules(rules []store.Rule) ([]compiledRule, []RuleWarning) {
	compiled := make([]compiledRule, 0, len(rules))
	warnings := make([]RuleWarning, 0)
	for _, rule := range rules {
		rule := rule
		if err := validateRule(&rule); err != nil {
			warnings = append(warnings, RuleWarning{Pattern: rule.Pattern, Message: err.Error()})
			continue
		}
		p, err := pattern.Compile(rule.Pattern)
		if err != nil {
			warnings = append(warnings, RuleWarning{Pattern: rule.Pattern, Message: err.Error()})
			continue
		}
		compiled = append(compiled, compiledRule{Rule: rule, pattern: p})
	}
	return compiled, warnings
}

// ListRules returns the current pattern rules as pattern -> assignee expression.
func (s *Service) ListRules(ctx context.Context) (map[string]string, error) {
	if !s.ready() {
		return map[string]string{}, nil
	}
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rules))
	for _, rule := range rules {
		out[rule.Pattern] = rule.Assignees
	}
	return out, nil
}

// ReplaceAll swaps the whole rule set and recomputes the pattern-derived
// assignees of every known document in one transaction. Rules are trimmed and
// entries with an empty pattern or expression are dropped. Rules that are kept
// but cannot match anything (a broken regular expression, say) are returned as
// warnings once the transaction has committed. A storage error rolls back everything.
func (s *Service) ReplaceAll(ctx context.Context, rules map[string]string) ([]RuleWarning, error) {
	if !s.ready() {
		return nil, ErrStorageUnavailable
	}

	next := normalizeRules(rules)
	compiled, warnings := compileRules(next)

	err := s.store.ExecTx(ctx, func(ctx context.Context) error {
		if err := s.store.ClearPatternAssignees(ctx); err != nil {
			return err
		}
		if err := s.store.DeleteRules(ctx); err != nil {
			return err
		}
		for _, rule := range next {
			if err := s.store.InsertRule(ctx, rule); err != nil {
				return err
			}
		}

		docs, err := s.store.ListDocuments(ctx)
		if err != nil {
			return err
		}
		// collect every matching rule per document before writing so overlapping rules add up
		matched := map[string][]string{}
		for _, rule := range compiled {
			for _, doc := range docs {
				if rule.pattern.Matches(doc.ID) {
					matched[doc.ID] = append(matched[doc.ID], rule.Assignees)
				}
			}
		}

		ids := make([]string, 0, len(matched))
		for id := range matched {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := s.store.SetPatternAssignees(ctx, id, assignee.Union(matched[id]...)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replace rules: %w", err)
	}

	for _, w := range warnings {
		s.logger.Warn("pattern rule matches nothing", "pattern", w.Pattern, "reason", w.Message)
	}
	s.logger.Info("pattern rules replaced", "rules", len(next), "warnings", len(warnings))
	return warnings, nil
}

// normalizeRules trims, drops empty entries and merges patterns that collide after trimming.
func normalizeRules(rules map[string]string) []store.Rule {
	merged := map[string]string{}
	for rawPattern, rawExpr := range rules {
		p := strings.TrimSpace(rawPattern)
		expr := assignee.Normalize(rawExpr)
		if p == "" || expr == "" {
			continue
		}
		merged[p] = assignee.Union(merged[p], expr)
	}

	out := make([]store.Rule, 0, len(merged))
	for p, expr := range merged {
		out = append(out, store.Rule{Pattern: p, Assignees: expr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out
}
