package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProjectProfile is the dev-mode project context loaded from a YAML
// file. In production the client supplies these fields when creating a
// session.
type ProjectProfile struct {
	ProjectID         string   `yaml:"project_id"`
	JDText            string   `yaml:"jd_text"`
	ResumeText        string   `yaml:"resume_text"`
	PracticeQuestions []string `yaml:"practice_questions"`
}

// LoadProjectProfile reads a profile file. An empty path returns a zero
// profile without error.
func LoadProjectProfile(path string) (ProjectProfile, error) {
	if path == "" {
		return ProjectProfile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ProjectProfile{}, fmt.Errorf("read project profile: %w", err)
	}
	var p ProjectProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return ProjectProfile{}, fmt.Errorf("parse project profile: %w", err)
	}
	if p.ProjectID == "" {
		p.ProjectID = "dev"
	}
	return p, nil
}
