package config

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed threats.yaml
var defaultThreatsYAML []byte

// ThreatFile mirrors the YAML threat dictionary
type ThreatFile struct {
	SuspiciousPorts []int `yaml:"suspicious_ports"`

	Keyword struct {
		BaseScore  float64           `yaml:"base_score"`
		Categories []KeywordCategory `yaml:"categories"`
	} `yaml:"keyword"`

	Process struct {
		SuspiciousNames     []string `yaml:"suspicious_names"`
		ObfuscationPatterns []string `yaml:"obfuscation_patterns"`
	} `yaml:"process"`

	Behavioral struct {
		OffHoursStart      int      `yaml:"off_hours_start"`
		OffHoursEnd        int      `yaml:"off_hours_end"`
		SensitiveProcesses []string `yaml:"sensitive_processes"`
	} `yaml:"behavioral"`

	Network struct {
		AuthorizedTag string `yaml:"authorized_tag"`
	} `yaml:"network"`
}

// KeywordCategory is one named group of message patterns
type KeywordCategory struct {
	Name     string   `yaml:"name"`
	Score    float64  `yaml:"score"`
	Patterns []string `yaml:"patterns"`
}

// CompiledCategory is a keyword category with its regexes compiled
type CompiledCategory struct {
	Name     string
	Score    float64
	Patterns []*regexp.Regexp
}

// Threats is the compiled, read-only threat dictionary handed to adapters and detectors.
// All accessors return copies or immutable values.
type Threats struct {
	suspiciousPorts    map[int]struct{}
	categories         []CompiledCategory
	suspiciousNames    []string
	obfuscation        []*regexp.Regexp
	offHoursStart      int
	offHoursEnd        int
	sensitiveProcesses map[string]struct{}
	authorizedTag      string
}

// LoadThreats reads the dictionary at path, or the embedded defaults when path is empty
func LoadThreats(path string) (*Threats, error) {
	data := defaultThreatsYAML

	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read threat config %s: %w", path, err)
		}
		data = fileData
	}

	return ParseThreats(data)
}

// DefaultThreats returns the embedded dictionary. It panics only if the embedded file is broken.
func DefaultThreats() *Threats {
	threats, err := ParseThreats(defaultThreatsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded threat config is invalid: %v", err))
	}
	return threats
}

// ParseThreats compiles a YAML threat dictionary
func ParseThreats(data []byte) (*Threats, error) {
	var file ThreatFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse threat config: %w", err)
	}

	return file.Compile()
}

// Compile validates the dictionary and compiles every pattern
func (f *ThreatFile) Compile() (*Threats, error) {
	baseScore := f.Keyword.BaseScore
	if baseScore == 0 {
		baseScore = 0.7
	}

	if baseScore < 0 || baseScore > 1 {
		return nil, fmt.Errorf("keyword base_score must be between 0 and 1")
	}

	t := &Threats{
		suspiciousPorts:    make(map[int]struct{}, len(f.SuspiciousPorts)),
		sensitiveProcesses: make(map[string]struct{}, len(f.Behavioral.SensitiveProcesses)),
		offHoursStart:      f.Behavioral.OffHoursStart,
		offHoursEnd:        f.Behavioral.OffHoursEnd,
		authorizedTag:      strings.ToUpper(f.Network.AuthorizedTag),
	}

	if t.offHoursStart == 0 && t.offHoursEnd == 0 {
		t.offHoursStart, t.offHoursEnd = 22, 6
	}

	if t.authorizedTag == "" {
		t.authorizedTag = "AUTHORIZED"
	}

	for _, port := range f.SuspiciousPorts {
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid suspicious port: %d", port)
		}
		t.suspiciousPorts[port] = struct{}{}
	}

	for _, category := range f.Keyword.Categories {
		if category.Name == "" {
			return nil, fmt.Errorf("keyword category without a name")
		}

		score := category.Score
		if score == 0 {
			score = baseScore
		}
		if score < 0 || score > 1 {
			return nil, fmt.Errorf("keyword category %s: score must be between 0 and 1", category.Name)
		}

		compiled := CompiledCategory{Name: category.Name, Score: score}
		for _, pattern := range category.Patterns {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, fmt.Errorf("keyword category %s: bad pattern %q: %w", category.Name, pattern, err)
			}
			compiled.Patterns = append(compiled.Patterns, re)
		}
		t.categories = append(t.categories, compiled)
	}

	for _, name := range f.Process.SuspiciousNames {
		t.suspiciousNames = append(t.suspiciousNames, strings.ToLower(name))
	}

	for _, pattern := range f.Process.ObfuscationPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad obfuscation pattern %q: %w", pattern, err)
		}
		t.obfuscation = append(t.obfuscation, re)
	}

	for _, name := range f.Behavioral.SensitiveProcesses {
		t.sensitiveProcesses[strings.ToLower(name)] = struct{}{}
	}

	return t, nil
}

func (t *Threats) IsSuspiciousPort(port int) bool {
	_, ok := t.suspiciousPorts[port]
	return ok
}

// SuspiciousPorts returns the configured ports in ascending order
func (t *Threats) SuspiciousPorts() []int {
	ports := make([]int, 0, len(t.suspiciousPorts))
	for port := range t.suspiciousPorts {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

func (t *Threats) KeywordCategories() []CompiledCategory {
	return append([]CompiledCategory(nil), t.categories...)
}

// MatchSuspiciousProcess returns the first suspicious substring found in name, if any
func (t *Threats) MatchSuspiciousProcess(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, needle := range t.suspiciousNames {
		if strings.Contains(lower, needle) {
			return needle, true
		}
	}
	return "", false
}

// IsObfuscatedCommand reports directory traversal or encoded-payload patterns in a command line
func (t *Threats) IsObfuscatedCommand(command string) bool {
	for _, re := range t.obfuscation {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

// IsOffHours reports whether hour (0-23) falls outside working hours
func (t *Threats) IsOffHours(hour int) bool {
	return hour < t.offHoursEnd || hour > t.offHoursStart
}

func (t *Threats) IsSensitiveProcess(name string) bool {
	_, ok := t.sensitiveProcesses[strings.ToLower(name)]
	return ok
}

func (t *Threats) AuthorizedTag() string {
	return t.authorizedTag
}
