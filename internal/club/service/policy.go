package service

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type PasswordRule string

const (
	RuleMinLength PasswordRule = "min_length"
	RuleUppercase PasswordRule = "uppercase"
	RuleLowercase PasswordRule = "lowercase"
	RuleDigit     PasswordRule = "digit"
	RuleSymbol    PasswordRule = "symbol"
)

const DefaultMinPasswordLength = 8

// PasswordPolicy holds the composition rules for new passwords. It is only
// applied when a password is chosen, never to existing hashes.
type PasswordPolicy struct {
	MinLength int
}

var DefaultPasswordPolicy = PasswordPolicy{MinLength: DefaultMinPasswordLength}

// Validate returns every rule password violates, in a stable order. An empty
// result means the password is acceptable.
func (p PasswordPolicy) Validate(password string) []PasswordRule {
	minLen := p.MinLength
	if minLen <= 0 {
		minLen = DefaultMinPasswordLength
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	var violated []PasswordRule
	if utf8.RuneCountInString(password) < minLen {
		violated = append(violated, RuleMinLength)
	}
	if !upper {
		violated = append(violated, RuleUppercase)
	}
	if !lower {
		violated = append(violated, RuleLowercase)
	}
	if !digit {
		violated = append(violated, RuleDigit)
	}
	if !symbol {
		violated = append(violated, RuleSymbol)
	}
	return violated
}

// Describe renders violated rules as one sentence for a form field.
func (p PasswordPolicy) Describe(rules []PasswordRule) string {
	if len(rules) == 0 {
		return ""
	}
	minLen := p.MinLength
	if minLen <= 0 {
		minLen = DefaultMinPasswordLength
	}

	parts := make([]string, 0, len(rules))
	for _, r := range rules {
		switch r {
		case RuleMinLength:
			parts = append(parts, "at least "+strconv.Itoa(minLen)+" characters")
		case RuleUppercase:
			parts = append(parts, "an uppercase letter")
		case RuleLowercase:
			parts = append(parts, "a lowercase letter")
		case RuleDigit:
			parts = append(parts, "a digit")
		case RuleSymbol:
			parts = append(parts, "a symbol")
		}
	}
	return "Password needs " + strings.Join(parts, ", ") + "."
}

// check adds a message for field to verr when password breaks the policy.
func (p PasswordPolicy) check(verr *ValidationError, field, password string) {
	if password == "" {
		return
	}
	if rules := p.Validate(password); len(rules) > 0 {
		verr.Add(field, p.Describe(rules))
	}
}
