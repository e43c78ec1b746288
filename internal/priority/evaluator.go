package priority

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"qms/queue-service/internal/models"
)

const (
	MinPriority = models.PriorityNormal
	MaxPriority = models.PriorityUrgent
)

// Input is the ticket context a rule is matched against. At is the ticket
// creation instant, never the time of a later query.
type Input struct {
	Customer  models.Customer
	ServiceID string
	At        time.Time
}

type Result struct {
	Priority int
	RuleID   string
}

type agePayload struct {
	MinAge int `json:"min_age"`
	MaxAge int `json:"max_age"`
}

type memberPayload struct {
	Tiers []string `json:"tiers"`
}

type disabilityPayload struct {
	Disability bool `json:"disability"`
	Pregnancy  bool `json:"pregnancy"`
}

type timeOfDayPayload struct {
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Days     []string `json:"days"`
	Timezone string   `json:"timezone"`
}

type servicePayload struct {
	ServiceIDs []string `json:"service_ids"`
}

type customPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Evaluate returns the highest boost among matching active rules. When
// several rules share that boost the one with the lowest sort order
// explains the result.
func Evaluate(input Input, rules []models.PriorityRule) Result {
	result := Result{Priority: MinPriority}
	var winner *models.PriorityRule
	for i := range rules {
		rule := rules[i]
		if !rule.Active {
			continue
		}
		ok, err := Matches(rule, input)
		if err != nil {
			log.Printf("priority rule error rule=%s condition=%s: %v", rule.RuleID, rule.Condition, err)
			continue
		}
		if !ok {
			continue
		}
		boost := clamp(rule.Boost)
		if boost < result.Priority || boost == 0 {
			continue
		}
		if winner == nil || boost > result.Priority || before(rule, *winner) {
			result.Priority = boost
			result.RuleID = rule.RuleID
			winner = &rules[i]
		}
	}
	return result
}

func before(a, b models.PriorityRule) bool {
	if a.SortOrder != b.SortOrder {
		return a.SortOrder < b.SortOrder
	}
	return a.RuleID < b.RuleID
}

func clamp(value int) int {
	if value < MinPriority {
		return MinPriority
	}
	if value > MaxPriority {
		return MaxPriority
	}
	return value
}

func Matches(rule models.PriorityRule, input Input) (bool, error) {
	switch rule.Condition {
	case models.ConditionAge:
		var payload agePayload
		if err := decode(rule.Payload, &payload); err != nil {
			return false, err
		}
		return matchAge(payload, input), nil
	case models.ConditionMemberType:
		var payload memberPayload
		if err := decode(rule.Payload, &payload); err != nil {
			return false, err
		}
		return containsFold(payload.Tiers, input.Customer.MemberTier), nil
	case models.ConditionDisability:
		var payload disabilityPayload
		if err := decode(rule.Payload, &payload); err != nil {
			return false, err
		}
		if !payload.Disability && !payload.Pregnancy {
			return input.Customer.Disability || input.Customer.Pregnant, nil
		}
		return (payload.Disability && input.Customer.Disability) || (payload.Pregnancy && input.Customer.Pregnant), nil
	case models.ConditionTimeOfDay:
		var payload timeOfDayPayload
		if err := decode(rule.Payload, &payload); err != nil {
			return false, err
		}
		return matchTimeOfDay(payload, input.At)
	case models.ConditionService:
		var payload servicePayload
		if err := decode(rule.Payload, &payload); err != nil {
			return false, err
		}
		for _, id := range payload.ServiceIDs {
			if id == input.ServiceID {
				return true, nil
			}
		}
		return false, nil
	case models.ConditionCustom:
		var payload customPayload
		if err := decode(rule.Payload, &payload); err != nil {
			return false, err
		}
		if payload.Key == "" {
			return false, fmt.Errorf("custom rule without key")
		}
		value, ok := input.Customer.Attributes[payload.Key]
		return ok && strings.EqualFold(value, payload.Value), nil
	default:
		return false, fmt.Errorf("unknown condition %q", rule.Condition)
	}
}

func decode(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(raw, target)
}

func matchAge(payload agePayload, input Input) bool {
	if input.Customer.BirthDate == nil {
		return false
	}
	age := AgeAt(*input.Customer.BirthDate, input.At)
	if age < payload.MinAge {
		return false
	}
	if payload.MaxAge > 0 && age > payload.MaxAge {
		return false
	}
	return true
}

// AgeAt returns the completed years between birth and at.
func AgeAt(birth, at time.Time) int {
	years := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		years--
	}
	return years
}

func matchTimeOfDay(payload timeOfDayPayload, at time.Time) (bool, error) {
	start, err := parseClock(payload.Start)
	if err != nil {
		return false, err
	}
	end, err := parseClock(payload.End)
	if err != nil {
		return false, err
	}
	if payload.Timezone != "" {
		location, err := time.LoadLocation(payload.Timezone)
		if err != nil {
			return false, err
		}
		at = at.In(location)
	}

	minute := at.Hour()*60 + at.Minute()
	day := at.Weekday()
	var inside bool
	if start <= end {
		inside = minute >= start && minute < end
	} else {
		// Overnight window: the part after midnight belongs to the
		// previous day's window.
		if minute >= start {
			inside = true
		} else if minute < end {
			inside = true
			day = (day + 6) % 7
		}
	}
	if !inside {
		return false, nil
	}
	if len(payload.Days) == 0 {
		return true, nil
	}
	for _, name := range payload.Days {
		if dayMatches(name, day) {
			return true, nil
		}
	}
	return false, nil
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", value)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

func dayMatches(name string, day time.Weekday) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	full := strings.ToLower(day.String())
	return name == full || name == full[:3]
}

func containsFold(values []string, value string) bool {
	if value == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}
