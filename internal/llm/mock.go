package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// MockRule answers any prompt containing Match. An empty Match matches
// everything. A non-empty Error makes the call fail.
type MockRule struct {
	Match    string `yaml:"match"`
	Response string `yaml:"response"`
	Error    string `yaml:"error"`
}

// MockScenario is the on-disk form of a scripted completer.
type MockScenario struct {
	Name  string     `yaml:"name"`
	Model string     `yaml:"model"`
	Rules []MockRule `yaml:"rules"`
}

// MockCompleter answers prompts from a fixed rule list. The first matching
// rule wins. It records every prompt it receives.
type MockCompleter struct {
	scenario MockScenario

	mu       sync.Mutex
	requests []Request
}

// NewMockCompleter creates a scripted completer from rules.
func NewMockCompleter(rules ...MockRule) *MockCompleter {
	return &MockCompleter{scenario: MockScenario{Name: "inline", Model: "mock", Rules: rules}}
}

// LoadMockCompleter reads a YAML scenario file.
func LoadMockCompleter(path string) (*MockCompleter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mock scenario: %w", err)
	}
	var scenario MockScenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse mock scenario %s: %w", path, err)
	}
	if len(scenario.Rules) == 0 {
		return nil, fmt.Errorf("mock scenario %s has no rules", path)
	}
	if scenario.Model == "" {
		scenario.Model = "mock"
	}
	return &MockCompleter{scenario: scenario}, nil
}

// Complete implements Completer.
func (m *MockCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	prompt := flatten(req)
	for _, rule := range m.scenario.Rules {
		if rule.Match != "" && !strings.Contains(prompt, rule.Match) {
			continue
		}
		if rule.Error != "" {
			return "", errors.New(rule.Error)
		}
		return rule.Response, nil
	}
	return "", fmt.Errorf("mock scenario %q has no rule for prompt", m.scenario.Name)
}

// Requests returns a copy of the recorded requests.
func (m *MockCompleter) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Name implements Completer.
func (m *MockCompleter) Name() string {
	return ProviderMock
}

// Model implements Completer.
func (m *MockCompleter) Model() string {
	return m.scenario.Model
}
