// Package scenario drives scripted pub/sub exchanges against a live message
// bus and records structured observations for post-hoc inspection.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is an ordered list of steps executed strictly in sequence.
type Scenario struct {
	Name  string `yaml:"name" json:"name"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is a tagged union: exactly one field is set.
type Step struct {
	Publish      *PublishStep      `yaml:"publish,omitempty" json:"publish,omitempty"`
	Await        *AwaitStep        `yaml:"await,omitempty" json:"await,omitempty"`
	AssertEqual  *AssertEqualStep  `yaml:"assert_equal,omitempty" json:"assert_equal,omitempty"`
	InstallPack  *InstallPackStep  `yaml:"install_pack,omitempty" json:"install_pack,omitempty"`
	StartService *StartServiceStep `yaml:"start_service,omitempty" json:"start_service,omitempty"`
	HTTPPost     *HTTPPostStep     `yaml:"http_post,omitempty" json:"http_post,omitempty"`
}

// PublishStep publishes a JSON payload on a bus subject.
type PublishStep struct {
	Subject string `yaml:"subject" json:"subject"`
	Payload any    `yaml:"payload" json:"payload"`
}

// AwaitStep blocks for the next message on a subject. A nil Expected skips
// payload comparison; a zero TimeoutMS means the 5000ms default.
type AwaitStep struct {
	Subject   string `yaml:"subject" json:"subject"`
	Expected  any    `yaml:"expected,omitempty" json:"expected,omitempty"`
	TimeoutMS int64  `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

// AssertEqualStep compares two JSON documents without touching the bus.
type AssertEqualStep struct {
	Actual   any `yaml:"actual" json:"actual"`
	Expected any `yaml:"expected" json:"expected"`
}

// InstallPackStep only records intent; pack installation belongs to the
// deployment tooling, not the scenario runner.
type InstallPackStep struct {
	PackID string `yaml:"pack_id" json:"pack_id"`
}

// StartServiceStep only records intent.
type StartServiceStep struct {
	Name string `yaml:"name" json:"name"`
}

// HTTPPostStep only records intent.
type HTTPPostStep struct {
	URL  string `yaml:"url" json:"url"`
	Body any    `yaml:"body" json:"body"`
}

// Load reads a scenario from a YAML file and validates its steps.
func Load(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return Scenario{}, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Validate checks that every step carries exactly one step kind.
func (s Scenario) Validate() error {
	for i, step := range s.Steps {
		count := 0
		for _, set := range []bool{
			step.Publish != nil,
			step.Await != nil,
			step.AssertEqual != nil,
			step.InstallPack != nil,
			step.StartService != nil,
			step.HTTPPost != nil,
		} {
			if set {
				count++
			}
		}
		if count != 1 {
			return fmt.Errorf("step %d: expected exactly one step kind, got %d", i, count)
		}
	}
	return nil
}
