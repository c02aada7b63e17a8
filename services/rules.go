package services

import (
	"database/sql"
	"fmt"
	"log"
	"sort"

	"github.com/BVStecnologia/Healt-Solution-sub001/db"
)

// RuleService loads notification rules and resolves the effective set per
// provider. Provider-specific rules override global ones at the same
// minutes_before threshold; rules at different thresholds are independent.
type RuleService struct {
	PG *sql.DB
}

func NewRuleService(pg *sql.DB) *RuleService {
	return &RuleService{PG: pg}
}

// RuleSet holds all active rules loaded for one dispatcher pass, split by
// target role. Patient rules are global only and apply uniformly.
type RuleSet struct {
	Patient  []db.NotificationRule
	Provider []db.NotificationRule
}

// LoadActiveRules fetches every active rule once per pass.
func (s *RuleService) LoadActiveRules() (*RuleSet, error) {
	rows, err := s.PG.Query(`
		SELECT id, target_role, provider_id, minutes_before, template_name, is_active, created_at
		FROM notification_rules
		WHERE is_active = true
		ORDER BY minutes_before ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification rules: %w", err)
	}
	defer rows.Close()

	set := &RuleSet{}
	for rows.Next() {
		var rule db.NotificationRule
		var providerID sql.NullString

		err := rows.Scan(&rule.ID, &rule.TargetRole, &providerID,
			&rule.MinutesBefore, &rule.TemplateName, &rule.IsActive, &rule.CreatedAt)
		if err != nil {
			log.Printf("Rules: error scanning rule: %v", err)
			continue
		}

		if providerID.Valid {
			id := providerID.String
			rule.ProviderID = &id
		}

		switch rule.TargetRole {
		case db.RuleTargetPatient:
			// Patient-targeted rules have no override tier; only globals apply.
			if rule.IsGlobal() {
				set.Patient = append(set.Patient, rule)
			}
		case db.RuleTargetProvider:
			set.Provider = append(set.Provider, rule)
		default:
			log.Printf("Rules: unknown target role %q on rule %s", rule.TargetRole, rule.ID)
		}
	}

	return set, nil
}

// LeadTimes returns the distinct minutes_before values across all active
// rules, in ascending order.
func (rs *RuleSet) LeadTimes() []int {
	seen := make(map[int]bool)
	var leads []int

	all := append(append([]db.NotificationRule{}, rs.Patient...), rs.Provider...)
	for _, rule := range all {
		if !seen[rule.MinutesBefore] {
			seen[rule.MinutesBefore] = true
			leads = append(leads, rule.MinutesBefore)
		}
	}

	// Rules were loaded ordered by minutes_before, but patient and provider
	// slices are concatenated here, so sort again.
	sort.Ints(leads)

	return leads
}

// EffectiveForProvider resolves the provider override hierarchy: all
// provider-specific rules for the given provider, plus every global rule
// whose minutes_before is not shadowed by a specific rule for that provider.
func (rs *RuleSet) EffectiveForProvider(providerID string) []db.NotificationRule {
	shadowed := make(map[int]bool)
	var effective []db.NotificationRule

	for _, rule := range rs.Provider {
		if !rule.IsGlobal() && *rule.ProviderID == providerID {
			shadowed[rule.MinutesBefore] = true
			effective = append(effective, rule)
		}
	}

	for _, rule := range rs.Provider {
		if rule.IsGlobal() && !shadowed[rule.MinutesBefore] {
			effective = append(effective, rule)
		}
	}

	return effective
}

// PatientRulesAt returns the global patient rules at one threshold.
func (rs *RuleSet) PatientRulesAt(minutesBefore int) []db.NotificationRule {
	var rules []db.NotificationRule
	for _, rule := range rs.Patient {
		if rule.MinutesBefore == minutesBefore {
			rules = append(rules, rule)
		}
	}
	return rules
}
